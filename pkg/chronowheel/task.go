package chronowheel

import (
	"fmt"
	"time"

	"github.com/jholhewres/chronowheel/pkg/chronowheel/cronsrc"
)

// Body is a task's run factory. It is invoked once per firing, on a
// worker-pool goroutine owned by the scheduler, and given a TaskContext
// carrying the instance's deadline (if any) and cancellation signal. The
// returned InstanceHandle is informational only — the scheduler already
// constructed and registered the handle returned by TaskContext.Handle
// before Body ran; most bodies simply return tc.Handle() after calling
// tc.Finish() (directly, or via defer once the body's own work completes).
type Body func(TaskContext) InstanceHandle

// Frequency is one of Once, Repeated, or CountDown wrapping a cron
// expression, matching the grammar in the external interface.
type Frequency struct {
	kind       cronsrc.Kind
	cronExpr   string
	countdownN int
}

// Once runs at the first cron instant only.
func Once(cronExpr string) Frequency {
	return Frequency{kind: cronsrc.Once, cronExpr: cronExpr}
}

// Repeated runs at every cron instant, indefinitely.
func Repeated(cronExpr string) Frequency {
	return Frequency{kind: cronsrc.Repeated, cronExpr: cronExpr}
}

// CountDown runs at the next n cron instants, then retires.
func CountDown(n int, cronExpr string) Frequency {
	return Frequency{kind: cronsrc.CountDown, cronExpr: cronExpr, countdownN: n}
}

// Task is a recurring schedule definition: id, frequency, body, and the
// parallelism/timeout policy enforced by the instance table.
type Task struct {
	ID             int64
	Frequency      Frequency
	Body           Body
	MaxParallel    int
	MaxRunningTime time.Duration
}

// TaskBuilder constructs a Task from a chain of setters, mirroring the
// source's TaskBuilder/CandyFrequency grammar.
type TaskBuilder struct {
	t Task
}

// NewTaskBuilder returns a builder with MaxParallel defaulted to 1.
func NewTaskBuilder() *TaskBuilder {
	return &TaskBuilder{t: Task{MaxParallel: 1}}
}

func (b *TaskBuilder) SetTaskID(id int64) *TaskBuilder {
	b.t.ID = id
	return b
}

func (b *TaskBuilder) SetFrequency(f Frequency) *TaskBuilder {
	b.t.Frequency = f
	return b
}

func (b *TaskBuilder) SetBody(body Body) *TaskBuilder {
	b.t.Body = body
	return b
}

func (b *TaskBuilder) SetMaxParallel(n int) *TaskBuilder {
	b.t.MaxParallel = n
	return b
}

func (b *TaskBuilder) SetMaxRunningTime(d time.Duration) *TaskBuilder {
	b.t.MaxRunningTime = d
	return b
}

// Build validates and returns the assembled Task.
func (b *TaskBuilder) Build() (Task, error) {
	if b.t.ID == 0 {
		return Task{}, ErrReservedID
	}
	if b.t.Body == nil {
		return Task{}, fmt.Errorf("chronowheel: task %d has no body", b.t.ID)
	}
	if b.t.Frequency.cronExpr == "" {
		return Task{}, fmt.Errorf("chronowheel: task %d has no frequency", b.t.ID)
	}
	if b.t.MaxParallel <= 0 {
		b.t.MaxParallel = 1
	}
	return b.t, nil
}
