package chronowheel

import (
	"log/slog"
	"time"

	"github.com/zoobzio/clockz"
)

// defaultWheelSlots is the spec's recommended one-hour wheel reach at one
// tick per second.
const defaultWheelSlots = 3600

// Options configures a Scheduler at Build time, mirroring the teacher's
// plain-struct SchedulerConfig/DefaultSchedulerConfig convention rather than
// a flags/viper layer: chronowheel is a library with no config-file surface
// of its own.
type Options struct {
	// EnableStatusReport turns on the global PublicEvent stream. When
	// false, TakeStatusReporter returns ErrStatusDisabled and every
	// Bus.Emit call is a no-op.
	EnableStatusReport bool

	// Logger receives structured lifecycle logs (task added/removed,
	// instance started/finished/timed out, parallel-limit hits, stop).
	// Defaults to slog.Default().
	Logger *slog.Logger

	// TickInterval is the wall-clock period between wheel advances.
	// Defaults to one second, matching the spec's one-tick-per-second
	// dispatch model; only tests override this (via Clock).
	TickInterval time.Duration

	// WheelSlots is the timing wheel's single-rotation reach. Defaults to
	// 3600 (one hour).
	WheelSlots int

	// Clock is the tick source (component A). Defaults to
	// clockz.RealClock; tests inject clockz.NewFakeClock().
	Clock clockz.Clock
}

// DefaultOptions returns the zero-value-safe defaults Build falls back to
// for any unset field.
func DefaultOptions() Options {
	return Options{
		TickInterval: time.Second,
		WheelSlots:   defaultWheelSlots,
		Clock:        clockz.RealClock,
	}
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.WheelSlots <= 0 {
		o.WheelSlots = defaultWheelSlots
	}
	if o.Clock == nil {
		o.Clock = clockz.RealClock
	}
	return o
}
