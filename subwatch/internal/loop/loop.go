// Package loop provides the single-goroutine, cooperative scheduling every
// page pipeline runs on. All pipeline state is owned by one loop goroutine;
// other goroutines hand work to it with Post, and timers deliver their
// callbacks through the same queue so nothing needs a lock.
package loop

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Timer is a scheduled callback. Stop must be called from the loop
// goroutine; once it returns the callback will not run, even if the
// underlying timer already fired and its callback is queued.
type Timer interface {
	Stop() bool
}

// Scheduler is what pipeline components need from the event loop.
type Scheduler interface {
	Now() time.Time
	// Post queues fn to run on the loop goroutine in a later turn.
	Post(fn func())
	// AfterFunc runs fn on the loop goroutine after d.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Loop is the production Scheduler: a goroutine draining a task queue.
type Loop struct {
	tasks     chan func()
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used to report panicking tasks.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) { lp.logger = l }
}

// WithQueueSize sets the task queue capacity. Default: 1024.
func WithQueueSize(n int) Option {
	return func(lp *Loop) {
		if n > 0 {
			lp.tasks = make(chan func(), n)
		}
	}
}

// New creates a Loop. Call Run to start processing.
func New(opts ...Option) *Loop {
	l := &Loop{
		tasks:  make(chan func(), 1024),
		done:   make(chan struct{}),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Loop) Now() time.Time { return time.Now() }

// Post queues fn. It blocks while the queue is full and drops fn once the
// loop is closed. Do not call it from the loop goroutine with a full queue.
func (l *Loop) Post(fn func()) {
	select {
	case <-l.done:
	case l.tasks <- fn:
	}
}

// AfterFunc schedules fn on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped.Load() {
				return
			}
			fn()
		})
	})
	return t
}

// Run processes tasks until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return
		case <-l.done:
			return
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

// Sync runs fn on the loop and waits for it. It returns false when the loop
// closed before fn ran.
func (l *Loop) Sync(fn func()) bool {
	ran := make(chan struct{})
	select {
	case <-l.done:
		return false
	case l.tasks <- func() { defer close(ran); fn() }:
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		return false
	}
}

// Close stops the loop. Queued tasks are discarded.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop: task panicked", "panic", r)
		}
	}()
	fn()
}

type loopTimer struct {
	t       *time.Timer
	stopped atomic.Bool
}

func (t *loopTimer) Stop() bool {
	t.stopped.Store(true)
	return t.t.Stop()
}
