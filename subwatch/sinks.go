package subwatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/subtrack/subwatch/internal/sink"
	"github.com/hazyhaar/subtrack/subwatch/message"
)

// Sink receives detections. Send is called from the delivery goroutine,
// never from a page loop.
type Sink = sink.Sink

// NewStdoutSink writes one JSON detection per line to w (os.Stdout if nil).
func NewStdoutSink(w io.Writer) Sink { return sink.NewStdout(w) }

// NewWebhookSink POSTs each detection as JSON to url, once.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink delivers detections to fn.
func NewCallbackSink(fn func(ctx context.Context, d message.Detection) error) Sink {
	return sink.NewCallback(fn)
}

// SinksFromConfig builds the sinks listed in cfg. Stdout sinks write to
// stdout, or os.Stdout when nil.
func SinksFromConfig(cfg *Config, stdout io.Writer, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	for i, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			out = append(out, sink.NewStdout(stdout))
		case "webhook":
			out = append(out, sink.NewWebhook(sc.URL,
				sink.WithWebhookTimeout(sc.Timeout),
				sink.WithWebhookLogger(logger)))
		default:
			return nil, fmt.Errorf("subwatch: sinks[%d]: unknown type %q", i, sc.Type)
		}
	}
	return out, nil
}
