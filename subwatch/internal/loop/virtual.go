package loop

import "time"

// Virtual is a deterministic Scheduler for tests. Time only moves through
// Advance, and posted tasks and timers run on the caller's goroutine. It is
// not safe for concurrent use.
type Virtual struct {
	now    time.Time
	seq    uint64
	timers []*virtualTimer
	queue  []func()
}

// NewVirtual returns a Virtual scheduler whose clock starts at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time { return v.now }

func (v *Virtual) Post(fn func()) { v.queue = append(v.queue, fn) }

func (v *Virtual) AfterFunc(d time.Duration, fn func()) Timer {
	v.seq++
	t := &virtualTimer{at: v.now.Add(d), seq: v.seq, fn: fn}
	v.timers = append(v.timers, t)
	return t
}

// Drain runs queued tasks, including ones queued while draining.
func (v *Virtual) Drain() {
	for len(v.queue) > 0 {
		fn := v.queue[0]
		v.queue = v.queue[1:]
		fn()
	}
}

// Advance moves the clock forward by d, firing due timers in deadline order
// (ties in scheduling order) and draining posted tasks after each one.
func (v *Virtual) Advance(d time.Duration) {
	end := v.now.Add(d)
	v.Drain()
	for {
		t := v.nextDue(end)
		if t == nil {
			break
		}
		v.now = t.at
		t.fired = true
		t.fn()
		v.Drain()
	}
	v.now = end
	v.prune()
}

// Pending is the number of timers that have neither fired nor been stopped.
func (v *Virtual) Pending() int {
	n := 0
	for _, t := range v.timers {
		if t.active() {
			n++
		}
	}
	return n
}

func (v *Virtual) nextDue(end time.Time) *virtualTimer {
	var next *virtualTimer
	for _, t := range v.timers {
		if !t.active() || t.at.After(end) {
			continue
		}
		if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

func (v *Virtual) prune() {
	live := v.timers[:0]
	for _, t := range v.timers {
		if t.active() {
			live = append(live, t)
		}
	}
	v.timers = live
}

type virtualTimer struct {
	at      time.Time
	seq     uint64
	fn      func()
	fired   bool
	stopped bool
}

func (t *virtualTimer) active() bool { return !t.fired && !t.stopped }

func (t *virtualTimer) Stop() bool {
	if !t.active() {
		return false
	}
	t.stopped = true
	return true
}
