package chronowheel

import (
	"fmt"
	"time"

	"github.com/jholhewres/chronowheel/pkg/chronowheel/cronsrc"
	"github.com/jholhewres/chronowheel/pkg/chronowheel/wheel"
)

// taskEntry is the registry's live bookkeeping for one registered task:
// its static definition, the cron cursor driving its next fire instant,
// its observation chain, and the running-instance accounting the
// dispatcher consults for the parallelism cap and removal fan-out.
type taskEntry struct {
	task         Task
	cursor       *cronsrc.Cursor
	chain        *TaskInstancesChain
	retired      bool
	runningCount int
	runningIDs   []uint64
}

// registry owns the set of live task definitions and their schedule
// cursors (component D). It is mutated only by the scheduler goroutine.
type registry struct {
	tasks map[int64]*taskEntry
}

func newRegistry() *registry {
	return &registry{tasks: make(map[int64]*taskEntry)}
}

// add registers t, validates its schedule, and inserts its first firing
// into w. Returns the task's observation chain.
func (r *registry) add(t Task, w *wheel.Wheel, now time.Time) (*TaskInstancesChain, error) {
	if t.ID == 0 {
		return nil, ErrReservedID
	}
	if _, exists := r.tasks[t.ID]; exists {
		return nil, ErrDuplicateID
	}

	cursor, err := cronsrc.Parse(t.Frequency.cronExpr, t.Frequency.kind, t.Frequency.countdownN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	next := cursor.Next(now)
	if next.IsZero() {
		return nil, fmt.Errorf("%w: schedule %q has no future instant", ErrInvalidSchedule, t.Frequency.cronExpr)
	}

	chain := newChain()
	entry := &taskEntry{task: t, cursor: cursor, chain: chain}
	r.tasks[t.ID] = entry
	w.Insert(t.ID, delaySeconds(next, now))
	return chain, nil
}

// remove erases t from the registry and the wheel. Any instances still
// running are left to the caller to fan cancellation out to.
func (r *registry) remove(id int64, w *wheel.Wheel) (*taskEntry, error) {
	entry, ok := r.tasks[id]
	if !ok {
		return nil, ErrUnknownID
	}
	w.Remove(id)
	delete(r.tasks, id)
	return entry, nil
}

// advance forces t's next firing to occur on the upcoming tick without
// consuming a cron step.
func (r *registry) advance(id int64, w *wheel.Wheel) error {
	entry, ok := r.tasks[id]
	if !ok || entry.retired {
		return ErrUnknownID
	}
	w.Remove(id)
	w.Insert(id, 0)
	return nil
}

// delaySeconds converts a future instant into a non-negative whole-second
// delay relative to now, as the wheel's Insert expects.
func delaySeconds(next, now time.Time) int64 {
	d := next.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}
