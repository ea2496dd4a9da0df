// Command chronowheel-demo exercises the scheduler end to end: it
// registers a repeating task, prints each instance as it starts and
// finishes, and shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jholhewres/chronowheel/pkg/chronowheel"
)

func main() {
	cronExpr := flag.String("cron", "*/2 * * * * *", "six-field cron expression (seconds minutes hours day-of-month month day-of-week)")
	countdown := flag.Int("count", 0, "fire only this many times (0 = repeat forever)")
	maxParallel := flag.Int("max-parallel", 1, "maximum concurrently running instances")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	sched := chronowheel.Build(chronowheel.Options{
		EnableStatusReport: true,
		Logger:             logger,
	})

	freq := chronowheel.Repeated(*cronExpr)
	if *countdown > 0 {
		freq = chronowheel.CountDown(*countdown, *cronExpr)
	}

	task, err := chronowheel.NewTaskBuilder().
		SetTaskID(1).
		SetFrequency(freq).
		SetMaxParallel(*maxParallel).
		SetBody(func(tc chronowheel.TaskContext) chronowheel.InstanceHandle {
			defer tc.Finish()
			logger.Info("demo task firing", "instance_id", tc.InstanceID())
			return tc.Handle()
		}).
		Build()
	if err != nil {
		logger.Error("invalid task", "error", err)
		os.Exit(1)
	}

	if _, err := sched.InsertTask(task); err != nil {
		logger.Error("add task", "error", err)
		os.Exit(1)
	}

	reporter, err := sched.TakeStatusReporter()
	if err != nil {
		logger.Error("take status reporter", "error", err)
		os.Exit(1)
	}
	go func() {
		ctx := context.Background()
		for {
			ev, err := reporter.NextWithWait(ctx)
			if err != nil {
				return
			}
			logger.Info("event", "kind", ev.Kind, "task_id", ev.TaskID, "instance_id", ev.InstanceID)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("stop timed out waiting for instances to drain")
	}
}
