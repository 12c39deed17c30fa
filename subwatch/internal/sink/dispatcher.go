package sink

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/subtrack/subwatch/message"
)

// Dispatcher decouples detection from delivery. Emit enqueues without
// blocking and a single worker sends to the wrapped sink in order. When the
// queue is full the detection is dropped.
type Dispatcher struct {
	sink    Sink
	queue   chan message.Detection
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// DispatcherStats are cumulative delivery counters.
type DispatcherStats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Queued    int   `json:"queued"`
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize sets the queue capacity. Default: 256.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan message.Detection, n)
		}
	}
}

// WithSendTimeout bounds each delivery. Default: 10s.
func WithSendTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithDispatcherLogger sets a custom logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher starts a worker delivering to s.
func NewDispatcher(s Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sink:    s,
		queue:   make(chan message.Detection, 256),
		timeout: 10 * time.Second,
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	go d.run()
	return d
}

// Emit queues d for delivery. It never blocks.
func (d *Dispatcher) Emit(det message.Detection) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.queue <- det:
	default:
		d.dropped.Add(1)
		d.logger.Warn("sink: dispatch queue full, detection dropped",
			"keyword", det.Keyword, "url", det.URL)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for det := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.sink.Send(ctx, det)
		cancel()
		if err != nil {
			// Nobody upstream is waiting on the outcome.
			d.failed.Add(1)
			d.logger.Debug("sink: delivery failed", "keyword", det.Keyword, "url", det.URL, "error", err)
			continue
		}
		d.delivered.Add(1)
	}
}

// Stats returns the delivery counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		Queued:    len(d.queue),
	}
}

// Close stops accepting detections, delivers what is queued, then closes
// the sink. ctx bounds the wait for the queue to drain.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return d.sink.Close()
}
