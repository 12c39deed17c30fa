package host

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/subtrack/subwatch/message"
)

// Notifier surfaces an accepted detection to the user.
type Notifier interface {
	Notify(ctx context.Context, d message.Detection) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, d message.Detection) error

func (f NotifierFunc) Notify(ctx context.Context, d message.Detection) error { return f(ctx, d) }

// LogNotifier writes each detection to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, d message.Detection) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("subscription detected",
		"keyword", d.Keyword,
		"category", d.Category,
		"url", d.URL,
		"at", time.UnixMilli(d.Timestamp).UTC())
	return nil
}

// Dedup suppresses detections with the same keyword, category and url
// seen within window. A window of zero or less returns n unchanged.
func Dedup(n Notifier, window time.Duration) Notifier {
	if window <= 0 {
		return n
	}
	return &dedup{next: n, window: window, seen: make(map[dedupKey]time.Time), now: time.Now}
}

type dedupKey struct {
	keyword, category, url string
}

type dedup struct {
	next   Notifier
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[dedupKey]time.Time
}

func (d *dedup) Notify(ctx context.Context, det message.Detection) error {
	key := dedupKey{det.Keyword, det.Category, det.URL}
	now := d.now()

	d.mu.Lock()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		d.mu.Unlock()
		return nil
	}
	d.seen[key] = now
	for k, t := range d.seen {
		if now.Sub(t) >= d.window {
			delete(d.seen, k)
		}
	}
	d.mu.Unlock()

	return d.next.Notify(ctx, det)
}
