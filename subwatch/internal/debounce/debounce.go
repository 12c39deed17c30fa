// Package debounce coalesces bursts of triggers into one delayed call.
package debounce

import (
	"time"

	"github.com/hazyhaar/subtrack/subwatch/internal/loop"
)

// DefaultQuietPeriod applies when New is given a non-positive duration.
const DefaultQuietPeriod = 300 * time.Millisecond

// Debouncer runs fn once Quiet has elapsed since the latest Trigger. Each
// Trigger replaces the single pending timer, so there is never more than one
// queued call. All methods must be called on the scheduler's goroutine.
type Debouncer struct {
	sched   loop.Scheduler
	quiet   time.Duration
	fn      func()
	timer   loop.Timer
	stopped bool
}

// New creates a Debouncer for fn.
func New(sched loop.Scheduler, quiet time.Duration, fn func()) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Debouncer{sched: sched, quiet: quiet, fn: fn}
}

// Wrap returns the trigger and cancel functions of a new Debouncer.
func Wrap(sched loop.Scheduler, quiet time.Duration, fn func()) (trigger, cancel func()) {
	d := New(sched, quiet, fn)
	return d.Trigger, d.Stop
}

// Trigger (re)starts the quiet period.
func (d *Debouncer) Trigger() {
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	var t loop.Timer
	t = d.sched.AfterFunc(d.quiet, func() {
		if d.timer == t {
			d.timer = nil
		}
		if d.stopped {
			return
		}
		d.fn()
	})
	d.timer = t
}

// Pending reports whether a call is scheduled.
func (d *Debouncer) Pending() bool { return d.timer != nil }

// Stop cancels any pending call and makes later Triggers no-ops.
func (d *Debouncer) Stop() {
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Quiet is the configured quiet period.
func (d *Debouncer) Quiet() time.Duration { return d.quiet }
