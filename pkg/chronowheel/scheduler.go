package chronowheel

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/zoobzio/clockz"

	"github.com/jholhewres/chronowheel/pkg/chronowheel/events"
	"github.com/jholhewres/chronowheel/pkg/chronowheel/wheel"
)

// Scheduler is the dispatch engine: one dedicated goroutine (the
// "scheduler thread" of spec.md §5) owns the wheel, registry, and
// instance table and mutates them exclusively; every external request
// flows through the control channel (component H). User task bodies run
// on a conc pool owned by this Scheduler, never on the dispatcher
// goroutine itself.
type Scheduler struct {
	registry  *registry
	wheel     *wheel.Wheel
	instances *instanceTable
	bus       *events.Bus

	control     chan controlCmd
	completions chan completionSignal
	done        chan struct{}

	pool *pool.Pool

	clock        clockz.Clock
	tickInterval time.Duration
	logger       *slog.Logger

	reporterTaken atomic.Bool
	instanceSeq   uint64 // scheduler-goroutine-only, no atomic needed

	stopping    bool
	stopReplies []chan struct{}
}

// Build constructs and starts a Scheduler. The dispatcher goroutine begins
// ticking immediately; callers must eventually call Stop to release it.
func Build(opts Options) *Scheduler {
	opts = opts.withDefaults()

	s := &Scheduler{
		registry:     newRegistry(),
		wheel:        wheel.New(opts.WheelSlots),
		instances:    newInstanceTable(),
		bus:          events.NewBus(opts.EnableStatusReport),
		control:      make(chan controlCmd),
		completions:  make(chan completionSignal, 64),
		done:         make(chan struct{}),
		pool:         pool.New(),
		clock:        opts.Clock,
		tickInterval: opts.TickInterval,
		logger:       opts.Logger,
	}
	go s.run()
	return s
}

// send delivers cmd to the dispatcher goroutine, returning ErrStopped if
// the scheduler has already finished shutting down.
func (s *Scheduler) send(cmd controlCmd) error {
	select {
	case s.control <- cmd:
		return nil
	case <-s.done:
		return ErrStopped
	}
}

// AddTask registers t. It does not return an observation chain; use
// InsertTask for that.
func (s *Scheduler) AddTask(t Task) error {
	reply := make(chan addReply, 1)
	if err := s.send(addCmd{task: t, reply: reply}); err != nil {
		return err
	}
	r := <-reply
	return r.err
}

// InsertTask registers t and returns its TaskInstancesChain.
func (s *Scheduler) InsertTask(t Task) (*TaskInstancesChain, error) {
	reply := make(chan addReply, 1)
	if err := s.send(addCmd{task: t, want: true, reply: reply}); err != nil {
		return nil, err
	}
	r := <-reply
	return r.chain, r.err
}

// RemoveTask erases taskID from the registry and the wheel. Instances
// still running for it are cancelled (INSTANCE_CANCELLED); no further
// INSTANCE_STARTED is ever emitted for taskID afterward.
func (s *Scheduler) RemoveTask(taskID int64) error {
	reply := make(chan error, 1)
	if err := s.send(removeCmd{taskID: taskID, reply: reply}); err != nil {
		return err
	}
	return <-reply
}

// AdvanceTask forces taskID's next firing onto the upcoming tick without
// consuming a cron step.
func (s *Scheduler) AdvanceTask(taskID int64) error {
	reply := make(chan error, 1)
	if err := s.send(advanceCmd{taskID: taskID, reply: reply}); err != nil {
		return err
	}
	return <-reply
}

// cancelInstance requests cooperative cancellation of instanceID, called
// by InstanceHandle.Cancel.
func (s *Scheduler) cancelInstance(instanceID uint64) error {
	reply := make(chan error, 1)
	if err := s.send(cancelCmd{instanceID: instanceID, reply: reply}); err != nil {
		return err
	}
	return <-reply
}

// TakeStatusReporter returns the global PublicEvent stream. It may be
// called at most once, and only when the Scheduler was built with
// EnableStatusReport.
func (s *Scheduler) TakeStatusReporter() (*events.Reporter, error) {
	if !s.bus.Enabled() {
		return nil, ErrStatusDisabled
	}
	if !s.reporterTaken.CompareAndSwap(false, true) {
		return nil, ErrReporterTaken
	}
	return events.NewReporter(s.bus), nil
}

// Stop requests shutdown: no further AddTask succeeds, the context of every
// running instance is cancelled, and running instances are allowed to drain
// (finish, be cancelled, or time out); then the dispatcher goroutine ticks
// no more and releases its resources. Stop blocks until that has happened.
// It is safe to call more than once.
func (s *Scheduler) Stop() {
	reply := make(chan struct{})
	if err := s.send(stopCmd{reply: reply}); err != nil {
		return
	}
	<-reply
}

// run is the dispatcher goroutine: the sole mutator of wheel, registry,
// and instance table (spec.md §5's shared-resource policy).
func (s *Scheduler) run() {
	tickCh := s.clock.After(s.tickInterval)
	for {
		select {
		case now := <-tickCh:
			tickCh = s.clock.After(s.tickInterval)
			s.drainControl()
			if s.stopping {
				s.scanTimeouts(now)
			} else {
				s.dispatchTick(now)
			}
		case cmd := <-s.control:
			s.applyControl(cmd)
		case sig := <-s.completions:
			s.applyCompletion(sig)
		}
		if s.stopping && s.instances.len() == 0 {
			s.finishStop()
			return
		}
	}
}

// drainControl applies every control command currently queued, giving
// the "all pending add/remove/advance/cancel requests are applied before
// any dispatch" guarantee of spec.md §4.F step 1.
func (s *Scheduler) drainControl() {
	for {
		select {
		case cmd := <-s.control:
			s.applyControl(cmd)
		default:
			return
		}
	}
}

func (s *Scheduler) applyControl(cmd controlCmd) {
	switch c := cmd.(type) {
	case addCmd:
		s.handleAdd(c)
	case removeCmd:
		s.handleRemove(c)
	case advanceCmd:
		c.reply <- s.registry.advance(c.taskID, s.wheel)
	case cancelCmd:
		s.handleCancel(c)
	case stopCmd:
		s.stopping = true
		s.stopReplies = append(s.stopReplies, c.reply)
		for _, inst := range s.instances.byID {
			inst.cancel()
		}
		s.logger.Info("chronowheel: stop requested", "running_instances", s.instances.len())
	}
}

func (s *Scheduler) handleAdd(c addCmd) {
	if s.stopping {
		c.reply <- addReply{err: ErrStopped}
		return
	}
	chain, err := s.registry.add(c.task, s.wheel, s.clock.Now())
	if err != nil {
		c.reply <- addReply{err: err}
		return
	}
	s.logger.Info("chronowheel: task added", "task_id", c.task.ID, "max_parallel", c.task.MaxParallel)
	if c.want {
		c.reply <- addReply{chain: chain}
		return
	}
	c.reply <- addReply{}
}

func (s *Scheduler) handleRemove(c removeCmd) {
	entry, err := s.registry.remove(c.taskID, s.wheel)
	if err != nil {
		c.reply <- err
		return
	}
	now := s.clock.Now()
	for _, id := range entry.runningIDs {
		if inst, ok := s.instances.get(id); ok && State(inst.state.Load()) == StateRunning {
			s.terminate(inst, StateCancelled, events.InstanceCancelled, now)
		}
	}
	entry.chain.close()
	s.bus.Emit(context.Background(), events.TaskRemoved, c.taskID, 0, now)
	s.logger.Info("chronowheel: task removed", "task_id", c.taskID, "running_instances", entry.runningCount)
	c.reply <- nil
}

func (s *Scheduler) handleCancel(c cancelCmd) {
	inst, ok := s.instances.get(c.instanceID)
	if !ok {
		c.reply <- ErrUnknownID
		return
	}
	if State(inst.state.Load()) != StateRunning {
		c.reply <- ErrAlreadyTerminal
		return
	}
	s.terminate(inst, StateCancelled, events.InstanceCancelled, s.clock.Now())
	c.reply <- nil
}

// dispatchTick implements spec.md §4.F steps 2-4 for one tick.
func (s *Scheduler) dispatchTick(now time.Time) {
	due := s.wheel.Advance()
	for _, taskID := range due {
		entry, ok := s.registry.tasks[taskID]
		if !ok || entry.retired {
			continue
		}
		if entry.runningCount >= entry.task.MaxParallel {
			s.bus.Emit(context.Background(), events.ParallelLimitReached, taskID, 0, now)
			s.logger.Warn("chronowheel: parallel limit reached", "task_id", taskID, "max_parallel", entry.task.MaxParallel)
		} else {
			s.spawnInstance(entry, now)
		}
		s.rescheduleOrRetire(entry, taskID, now)
	}
	s.scanTimeouts(now)
}

func (s *Scheduler) spawnInstance(entry *taskEntry, now time.Time) {
	s.instanceSeq++
	id := s.instanceSeq

	state := &atomic.Int32{}
	state.Store(int32(StateRunning))

	var (
		ctx         context.Context
		cancel      context.CancelFunc
		hasDeadline bool
		deadline    time.Time
	)
	if entry.task.MaxRunningTime > 0 {
		deadline = now.Add(entry.task.MaxRunningTime)
		hasDeadline = true
		ctx, cancel = context.WithDeadline(context.Background(), deadline)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	inst := &instance{
		id:          id,
		taskID:      entry.task.ID,
		state:       state,
		startedAt:   now,
		hasDeadline: hasDeadline,
		deadline:    deadline,
		cancel:      cancel,
	}
	s.instances.add(inst)
	entry.runningCount++
	entry.runningIDs = append(entry.runningIDs, id)

	handle := InstanceHandle{instanceID: id, taskID: entry.task.ID, state: state, sched: s}
	entry.chain.push(handle)
	s.bus.Emit(context.Background(), events.InstanceStarted, entry.task.ID, id, now)
	s.logger.Info("chronowheel: instance started", "task_id", entry.task.ID, "instance_id", id)

	completions := s.completions
	done := s.done
	tc := TaskContext{
		ctx:        ctx,
		instanceID: id,
		taskID:     entry.task.ID,
		handle:     handle,
		finishOnce: &sync.Once{},
	}
	tc.onFinish = func() {
		select {
		case completions <- completionSignal{instanceID: id, outcome: StateCompleted}:
		case <-done:
		}
	}

	body := entry.task.Body
	logger := s.logger
	s.pool.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("chronowheel: task body panicked", "task_id", entry.task.ID, "instance_id", id, "panic", r)
				select {
				case completions <- completionSignal{instanceID: id, outcome: StateTimeout}:
				case <-done:
				}
			}
		}()
		body(tc)
	})
}

// rescheduleOrRetire implements the reschedule bullet of spec.md §4.F step
// 3, applied whether or not the task actually fired this tick.
func (s *Scheduler) rescheduleOrRetire(entry *taskEntry, taskID int64, now time.Time) {
	entry.cursor.Consume()
	if entry.cursor.Exhausted() {
		if entry.runningCount == 0 {
			delete(s.registry.tasks, taskID)
		} else {
			entry.retired = true
		}
		return
	}
	next := entry.cursor.Next(now)
	s.wheel.Insert(taskID, delaySeconds(next, now))
}

// scanTimeouts implements spec.md §4.F step 4: any instance whose
// deadline has arrived is marked TIMEOUT regardless of whether the
// dispatcher is still accepting new firings (it also runs during drain).
func (s *Scheduler) scanTimeouts(now time.Time) {
	var due []uint64
	for id, inst := range s.instances.byID {
		if inst.hasDeadline && !inst.deadline.After(now) {
			due = append(due, id)
		}
	}
	for _, id := range due {
		inst, ok := s.instances.get(id)
		if !ok || State(inst.state.Load()) != StateRunning {
			continue
		}
		s.terminate(inst, StateTimeout, events.InstanceTimeout, now)
	}
}

func (s *Scheduler) applyCompletion(sig completionSignal) {
	inst, ok := s.instances.get(sig.instanceID)
	if !ok || State(inst.state.Load()) != StateRunning {
		return
	}
	kind := events.InstanceCompleted
	if sig.outcome == StateTimeout {
		kind = events.InstanceTimeout
	}
	s.terminate(inst, sig.outcome, kind, s.clock.Now())
}

// terminate transitions inst to a terminal state, signals its
// cancellation token, removes it from the instance table, emits kind on
// the global stream, and decrements its task's parallel counter. It is
// the single chokepoint every termination path (finish, cancel, timeout,
// panic) funnels through.
func (s *Scheduler) terminate(inst *instance, final State, kind events.Kind, at time.Time) {
	inst.state.Store(int32(final))
	inst.cancel()
	s.instances.remove(inst.id)
	s.bus.Emit(context.Background(), kind, inst.taskID, inst.id, at)
	s.logger.Info("chronowheel: instance terminated", "task_id", inst.taskID, "instance_id", inst.id, "state", final.String())

	entry, ok := s.registry.tasks[inst.taskID]
	if !ok {
		return
	}
	entry.runningCount--
	entry.runningIDs = removeUint64(entry.runningIDs, inst.id)
	if entry.retired && entry.runningCount == 0 {
		delete(s.registry.tasks, inst.taskID)
	}
}

func removeUint64(s []uint64, v uint64) []uint64 {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// finishStop drains the pool, emits the final SCHEDULER_STOPPED event,
// and releases every resource the Scheduler owns. Called only once the
// instance table has emptied out.
func (s *Scheduler) finishStop() {
	s.pool.Wait()
	s.bus.Emit(context.Background(), events.SchedulerStopped, 0, 0, s.clock.Now())
	s.logger.Info("chronowheel: scheduler stopped")
	s.bus.Close()
	for _, entry := range s.registry.tasks {
		entry.chain.close()
	}
	for _, reply := range s.stopReplies {
		close(reply)
	}
	close(s.done)
}
