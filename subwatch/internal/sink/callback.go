package sink

import (
	"context"

	"github.com/hazyhaar/subtrack/subwatch/message"
)

// DetectionFunc receives detections in-process.
type DetectionFunc func(ctx context.Context, d message.Detection) error

// Callback delivers detections as Go function calls, for embedding the
// watcher and the host in one binary.
type Callback struct {
	fn DetectionFunc
}

// NewCallback creates a Callback sink. A nil fn discards.
func NewCallback(fn DetectionFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, d message.Detection) error {
	if c.fn == nil {
		return nil
	}
	return c.fn(ctx, d)
}

func (c *Callback) Close() error { return nil }
