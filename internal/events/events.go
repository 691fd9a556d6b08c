// internal/events/events.go
package events

import (
	"context"
	"encoding/json"
)

// Event describes a document created in the record store. The runtime
// delivers events at least once: a handler may see the same event more
// than once and must guard its own idempotency.
type Event struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Doc        json.RawMessage `json:"doc"`
}

// Handler consumes one event. Handlers must contain their own failures:
// a returned error is logged and counted, never redelivered by the
// dispatcher itself.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Publisher emits events into the feed. The store publishes on every
// Create; the retry sweep republishes to re-trigger delivery.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
