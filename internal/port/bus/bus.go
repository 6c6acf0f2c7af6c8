// Package bus defines the event bus port (interface).
package bus

import (
	"context"
	"errors"

	"github.com/greenlight-hq/greenlight/internal/domain/event"
)

// ErrTerminal marks a delivery failure that will never succeed on retry
// (malformed payload, schema violation). The transport dead-letters the event
// immediately instead of burning the retry budget. Wrap with fmt.Errorf and
// %w so errors.Is matches.
var ErrTerminal = errors.New("terminal delivery failure")

// Delivery carries a decoded envelope plus transport redelivery metadata.
// Attempt is 1-based: the first delivery of an event arrives with Attempt 1.
type Delivery struct {
	Envelope event.Envelope
	Attempt  int
}

// Handler processes one delivery. Returning nil acknowledges the event.
// Returning an error requeues it with backoff, unless the error wraps
// ErrTerminal or the retry ceiling is reached, in which case the event is
// dead-lettered and removed from the live stream.
type Handler func(ctx context.Context, d Delivery) error

// DeadLetterFunc is invoked by the transport when an event is moved to the
// dead-letter stream. Implementations must be idempotent: a crash between
// recording and acking causes a duplicate call.
type DeadLetterFunc func(ctx context.Context, env event.Envelope, attempts int, lastErr error)

// Bus is the port interface for publishing and consuming events.
type Bus interface {
	// Publish appends an event to the tenant's partition of the live
	// stream. Delivery is at-least-once; consumers dedupe on EventID.
	Publish(ctx context.Context, env event.Envelope) error

	// PublishDead appends an event to the per-type dead-letter stream.
	// Dead-lettered events are never redelivered to live consumers.
	PublishDead(ctx context.Context, env event.Envelope) error

	// Subscribe joins the named consumer group for the given event types.
	// Each event within a tenant partition is delivered to exactly one
	// group member at a time. The returned function cancels the
	// subscription.
	Subscribe(ctx context.Context, group string, types []event.Type, h Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the connection immediately.
	Close() error

	// IsConnected reports whether the bus is currently reachable.
	IsConnected() bool
}
