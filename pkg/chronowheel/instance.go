package chronowheel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State is an instance's lifecycle state. Values match the external
// interface's constants (RUNNING=1, COMPLETED=2, CANCELLED=3, TIMEOUT=4).
type State int32

const (
	StateRunning   State = 1
	StateCompleted State = 2
	StateCancelled State = 3
	StateTimeout   State = 4
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	case StateCancelled:
		return "CANCELLED"
	case StateTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// instance is the dispatcher's private bookkeeping for one firing. It is
// mutated only by the scheduler goroutine; the one field external callers
// touch directly is the shared atomic state cell reachable through
// InstanceHandle.State, read lock-free.
type instance struct {
	id          uint64
	taskID      int64
	state       *atomic.Int32
	startedAt   time.Time
	hasDeadline bool
	deadline    time.Time
	cancel      context.CancelFunc
}

// InstanceHandle is the opaque, task-back-reference-free handle carried by
// a TaskInstancesChain to external observers, and returned by a task's
// Body. It exposes only what an external caller needs: the ids, a
// lock-free state read, and cooperative cancellation routed back through
// the owning scheduler's control channel (state is written exclusively by
// the scheduler goroutine, never by the caller of Cancel directly).
type InstanceHandle struct {
	instanceID uint64
	taskID     int64
	state      *atomic.Int32
	sched      *Scheduler
}

func (h InstanceHandle) InstanceID() uint64 { return h.instanceID }
func (h InstanceHandle) TaskID() int64      { return h.taskID }

// State reads the instance's current state without blocking or locking.
func (h InstanceHandle) State() State {
	if h.state == nil {
		return 0
	}
	return State(h.state.Load())
}

// Cancel requests cooperative cancellation of the instance. It returns
// ErrAlreadyTerminal if the instance already reached a terminal state,
// or ErrUnknownID if the instance is no longer tracked.
func (h InstanceHandle) Cancel() error {
	if h.sched == nil {
		return ErrUnknownID
	}
	err := h.sched.cancelInstance(h.instanceID)
	if err == ErrUnknownID {
		// Terminated instances leave the table; their state cell remains.
		if st := h.State(); st != 0 && st != StateRunning {
			return ErrAlreadyTerminal
		}
	}
	return err
}

// TaskContext is passed to a Body on each firing. It carries the
// instance's deadline (if the task has a MaxRunningTime), a cancellation
// signal shared between timeout, explicit Cancel, and scheduler stop, and
// the Finish callback the body must invoke exactly once to report normal
// completion.
type TaskContext struct {
	ctx        context.Context
	instanceID uint64
	taskID     int64
	handle     InstanceHandle
	finishOnce *sync.Once
	onFinish   func()
}

// Context returns the instance's context, cancelled on timeout, explicit
// Cancel, or scheduler stop.
func (tc TaskContext) Context() context.Context { return tc.ctx }

// Done is a shorthand for Context().Done(), the body's suspension point
// for observing cooperative cancellation.
func (tc TaskContext) Done() <-chan struct{} { return tc.ctx.Done() }

// Deadline reports the instance's enforced deadline, if any.
func (tc TaskContext) Deadline() (time.Time, bool) { return tc.ctx.Deadline() }

func (tc TaskContext) InstanceID() uint64 { return tc.instanceID }
func (tc TaskContext) TaskID() int64      { return tc.taskID }

// Handle returns the InstanceHandle the scheduler already registered and
// pushed onto the task's chain before invoking Body. Bodies typically
// return this unchanged.
func (tc TaskContext) Handle() InstanceHandle { return tc.handle }

// Finish reports normal completion. A second call is a no-op, matching
// the "no double-finish" testable property.
func (tc TaskContext) Finish() {
	tc.finishOnce.Do(tc.onFinish)
}

// instanceTable is the dispatcher's single-writer map of live instances.
// No mutex: only the scheduler goroutine ever reads or writes it.
type instanceTable struct {
	byID map[uint64]*instance
}

func newInstanceTable() *instanceTable {
	return &instanceTable{byID: make(map[uint64]*instance)}
}

func (t *instanceTable) add(inst *instance) {
	t.byID[inst.id] = inst
}

func (t *instanceTable) get(id uint64) (*instance, bool) {
	inst, ok := t.byID[id]
	return inst, ok
}

func (t *instanceTable) remove(id uint64) {
	delete(t.byID, id)
}

func (t *instanceTable) len() int {
	return len(t.byID)
}
