// Package sink delivers detections to their consumers: a JSON-lines
// stream, the host's HTTP endpoint, or an in-process function.
package sink

import (
	"context"

	"github.com/hazyhaar/subtrack/subwatch/message"
)

// Sink is the output interface.
type Sink interface {
	Send(ctx context.Context, d message.Detection) error
	Close() error
}
