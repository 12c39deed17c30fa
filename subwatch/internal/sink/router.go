package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/subtrack/subwatch/message"
)

// Router fans a detection out to every sink. One sink failing does not
// stop the others; failures are logged and the first is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) Send(ctx context.Context, d message.Detection) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Send(ctx, d); err != nil {
			r.logger.Warn("sink: send failed", "sink", sinkName(s), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Len is the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

func sinkName(s Sink) string {
	switch s.(type) {
	case *Stdout:
		return "stdout"
	case *Webhook:
		return "webhook"
	case *Callback:
		return "callback"
	case *Router:
		return "router"
	}
	return "custom"
}
