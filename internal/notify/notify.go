// Package notify generalizes the teacher's transactional-email sender
// into a generic event Publisher: the introspection engine and the
// ReBAC tuple administration surface publish fire-and-forget events
// through the same interface instead of each growing its own
// notification path. Key rotation publishes no event.
package notify

import (
	"context"
	"log/slog"
)

// Publisher emits a named event with an arbitrary payload. Publish is
// fire-and-forget: a failed publish MUST NOT change the caller's
// response, matching the cache write-through ordering guarantee.
type Publisher interface {
	Publish(ctx context.Context, event string, payload map[string]interface{})
}

// DevPublisher logs events to stdout, safe for development and for
// any deployment that has not wired a real event transport.
type DevPublisher struct {
	Logger *slog.Logger
}

// NewDevPublisher builds a DevPublisher over logger.
func NewDevPublisher(logger *slog.Logger) *DevPublisher {
	return &DevPublisher{Logger: logger}
}

func (p *DevPublisher) Publish(ctx context.Context, event string, payload map[string]interface{}) {
	fields := make([]interface{}, 0, len(payload)*2+2)
	fields = append(fields, "event", event)
	for k, v := range payload {
		fields = append(fields, k, v)
	}
	p.Logger.InfoContext(ctx, "event published", fields...)
}
