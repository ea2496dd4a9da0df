// Package events implements the scheduler's global status-event stream.
//
// The stream is built on top of github.com/zoobzio/hookz, which supplies
// the typed, keyed pub-sub primitive; this package only adds the
// scheduler's event vocabulary and the "disabled means free" behavior
// required when status reporting was not enabled at build time.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/hookz"
)

// Kind enumerates the global PublicEvent variants.
type Kind string

const (
	InstanceStarted      Kind = "instance.started"
	InstanceCompleted    Kind = "instance.completed"
	InstanceCancelled    Kind = "instance.cancelled"
	InstanceTimeout      Kind = "instance.timeout"
	ParallelLimitReached Kind = "parallel_limit.reached"
	TaskRemoved          Kind = "task.removed"
	SchedulerStopped     Kind = "scheduler.stopped"
)

// hook keys, one per Kind, used to address hookz subscriptions.
var keys = map[Kind]hookz.Key{
	InstanceStarted:      hookz.Key(InstanceStarted),
	InstanceCompleted:    hookz.Key(InstanceCompleted),
	InstanceCancelled:    hookz.Key(InstanceCancelled),
	InstanceTimeout:      hookz.Key(InstanceTimeout),
	ParallelLimitReached: hookz.Key(ParallelLimitReached),
	TaskRemoved:          hookz.Key(TaskRemoved),
	SchedulerStopped:     hookz.Key(SchedulerStopped),
}

// PublicEvent is one entry on the global status stream, totally ordered
// within a single Bus.
type PublicEvent struct {
	Kind       Kind
	TaskID     int64
	InstanceID uint64 // zero when not applicable (e.g. TaskRemoved)
	At         time.Time
}

// Handler receives published events. It must not block for long: it runs
// synchronously inside the dispatcher's Emit call via hookz's handler
// dispatch.
type Handler func(context.Context, PublicEvent) error

// Bus fans PublicEvents out to subscribers. A Bus created with enabled
// set to false never touches the underlying hookz.Hooks: Emit becomes an
// immediate no-op, matching the "status reporting disabled" contract.
type Bus struct {
	enabled bool
	hooks   *hookz.Hooks[PublicEvent]
}

// NewBus creates a Bus. When enabled is false, Emit and Subscribe are
// both no-ops (Subscribe returns a no-op unsubscribe func and a nil
// error, since there is nothing to fail).
func NewBus(enabled bool) *Bus {
	b := &Bus{enabled: enabled}
	if enabled {
		b.hooks = hookz.New[PublicEvent]()
	}
	return b
}

// Emit publishes an event. A nil Bus or a disabled Bus does nothing.
func (b *Bus) Emit(ctx context.Context, kind Kind, taskID int64, instanceID uint64, at time.Time) {
	if b == nil || !b.enabled {
		return
	}
	_ = b.hooks.Emit(ctx, keys[kind], PublicEvent{ //nolint:errcheck
		Kind:       kind,
		TaskID:     taskID,
		InstanceID: instanceID,
		At:         at,
	})
}

// Subscribe registers h for every event of the given kind. It returns an
// unsubscribe function. On a disabled Bus it returns a no-op unsubscribe.
func (b *Bus) Subscribe(kind Kind, h Handler) (func(), error) {
	if b == nil || !b.enabled {
		return func() {}, nil
	}
	unhook, err := b.hooks.Hook(keys[kind], h)
	if err != nil {
		return func() {}, err
	}
	return unhook, nil
}

// Close releases the underlying hookz resources. Safe to call on a
// disabled Bus.
func (b *Bus) Close() {
	if b == nil || !b.enabled {
		return
	}
	b.hooks.Close()
}

// Enabled reports whether the bus was built with status reporting on.
func (b *Bus) Enabled() bool {
	return b != nil && b.enabled
}

// allKinds lists every PublicEvent variant a Reporter subscribes to.
var allKinds = []Kind{
	InstanceStarted,
	InstanceCompleted,
	InstanceCancelled,
	InstanceTimeout,
	ParallelLimitReached,
	TaskRemoved,
	SchedulerStopped,
}

// reporterBacklog bounds the pull-based Reporter's internal channel. The
// spec leaves the global stream's overflow policy undefined (unlike the
// per-task chain's documented drop-oldest ring); a slow reader here drops
// the newest event rather than blocking the dispatcher goroutine that
// calls Emit, since Emit runs synchronously inside the scheduler's single
// writer thread.
const reporterBacklog = 256

// Reporter is the pull-based handle TakeStatusReporter hands out: it
// subscribes to every Kind on a Bus and buffers them for NextWithWait,
// adapting hookz's push-style Hook/Emit into the spec's
// next_public_event_with_wait contract.
type Reporter struct {
	ch        chan PublicEvent
	unsubs    []func()
	closeOnce sync.Once
}

// NewReporter subscribes to every event kind on b and returns a Reporter
// ready for NextWithWait. Intended to be created at most once per Bus, by
// the scheduler's TakeStatusReporter.
func NewReporter(b *Bus) *Reporter {
	r := &Reporter{ch: make(chan PublicEvent, reporterBacklog)}
	for _, kind := range allKinds {
		unhook, err := b.Subscribe(kind, func(_ context.Context, ev PublicEvent) error {
			select {
			case r.ch <- ev:
			default:
			}
			return nil
		})
		if err != nil {
			continue
		}
		r.unsubs = append(r.unsubs, unhook)
	}
	return r
}

// NextWithWait blocks until the next PublicEvent arrives or ctx is done.
func (r *Reporter) NextWithWait(ctx context.Context) (PublicEvent, error) {
	select {
	case ev, ok := <-r.ch:
		if !ok {
			return PublicEvent{}, context.Canceled
		}
		return ev, nil
	case <-ctx.Done():
		return PublicEvent{}, ctx.Err()
	}
}

// Close unsubscribes the Reporter from its Bus and releases its channel.
// Safe to call more than once.
func (r *Reporter) Close() {
	r.closeOnce.Do(func() {
		for _, u := range r.unsubs {
			u()
		}
		close(r.ch)
	})
}
