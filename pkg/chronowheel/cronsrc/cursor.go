// Package cronsrc adapts a parsed cron expression into the lazy,
// restartable sequence of future instants the dispatch engine needs.
// Parsing itself is delegated entirely to robfig/cron/v3, exactly as the
// scheduler's teacher subsystem does (pkg/devclaw/scheduler.scheduleCronJob);
// this package only adds the Once/Repeated/CountDown bookkeeping on top.
package cronsrc

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts a six-field grammar: seconds, minutes, hours,
// day-of-month, month, day-of-week are all significant, plus the
// standard descriptors (@every, @daily, ...). A trailing year field is
// not part of robfig/cron's vocabulary; expressions that attempt to
// carry one are rejected by the parser, which is an acceptable
// restriction given no pack example parses cron years either.
var parser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Kind distinguishes the three Frequency grammar variants.
type Kind int

const (
	Once Kind = iota
	Repeated
	CountDown
)

// Cursor is a restartable iterator of future instants derived from one
// cron expression, honoring the Once/Repeated/CountDown semantics.
type Cursor struct {
	schedule  cron.Schedule
	kind      Kind
	remaining int  // only meaningful for CountDown
	fired     bool // only meaningful for Once: set once its single firing is consumed
}

// Parse builds a Cursor for the given cron expression and frequency
// kind. n is the CountDown budget; it is ignored for Once and Repeated.
func Parse(expr string, kind Kind, n int) (*Cursor, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cronsrc: invalid expression %q: %w", expr, err)
	}
	c := &Cursor{schedule: sched, kind: kind}
	if kind == CountDown {
		if n <= 0 {
			return nil, fmt.Errorf("cronsrc: CountDown requires n > 0, got %d", n)
		}
		c.remaining = n
	}
	return c, nil
}

// Next returns the next instant strictly after "after". Callers must
// check Exhausted before calling Next, and must call Consume once the
// returned instant has actually been dispatched (or discarded, e.g. on
// task removal).
func (c *Cursor) Next(after time.Time) time.Time {
	return c.schedule.Next(after)
}

// Consume advances the cursor's internal exhaustion bookkeeping after a
// firing has actually been dispatched for the instant returned by the
// last Next call. It must be called at most once per firing.
func (c *Cursor) Consume() {
	switch c.kind {
	case Once:
		c.fired = true
	case CountDown:
		if c.remaining > 0 {
			c.remaining--
		}
	}
}

// Exhausted reports whether the cursor has no further firings to give.
func (c *Cursor) Exhausted() bool {
	switch c.kind {
	case Once:
		return c.fired
	case CountDown:
		return c.remaining <= 0
	default:
		return false
	}
}

// Remaining returns the number of firings left for a CountDown cursor (0
// for exhausted, unspecified/ignored for Once and Repeated).
func (c *Cursor) Remaining() int {
	return c.remaining
}
