// Package nats implements the event bus port using NATS JetStream.
//
// Events live on per-tenant subjects under gl.evt.<type>.<tenant>, giving
// FIFO ordering within a tenant partition while tenants scale independently.
// Dead letters go to gl.dlq.<type>.<tenant> and are never consumed by live
// subscribers.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/greenlight-hq/greenlight/internal/domain/event"
	"github.com/greenlight-hq/greenlight/internal/port/bus"
	"github.com/greenlight-hq/greenlight/internal/retry"
)

const (
	liveSubjectPrefix = "gl.evt."
	deadSubjectPrefix = "gl.dlq."
)

// liveSubject is the publish subject for a live event.
func liveSubject(typ event.Type, tenantID string) string {
	return liveSubjectPrefix + string(typ) + "." + tenantID
}

// deadSubject is the publish subject for a dead-lettered event.
func deadSubject(typ event.Type, tenantID string) string {
	return deadSubjectPrefix + string(typ) + "." + tenantID
}

// filterSubject matches one event type across all tenants.
func filterSubject(typ event.Type) string {
	return liveSubjectPrefix + string(typ) + ".>"
}

// Options configures the JetStream-backed bus.
type Options struct {
	// Stream is the JetStream stream name holding both live and dead
	// subjects.
	Stream string

	// MaxAttempts is the delivery ceiling before an event is dead-lettered.
	MaxAttempts int

	// AckWait is the visibility timeout: an unacked delivery is redelivered
	// after this window with the attempt counter incremented.
	AckWait time.Duration

	// DedupeWindow suppresses duplicate publishes sharing an event id.
	DedupeWindow time.Duration

	// Backoff is the redelivery delay schedule.
	Backoff retry.Backoff

	// DeadLetter is invoked before an event is terminated. Must be
	// idempotent.
	DeadLetter bus.DeadLetterFunc
}

// Bus implements bus.Bus using NATS JetStream.
type Bus struct {
	nc   *nats.Conn
	js   jetstream.JetStream
	opts Options
}

// Connect establishes a connection to NATS and ensures the stream exists.
func Connect(ctx context.Context, url string, opts Options) (*Bus, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       opts.Stream,
		Subjects:   []string{liveSubjectPrefix + ">", deadSubjectPrefix + ">"},
		Duplicates: opts.DedupeWindow,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", opts.Stream)
	return &Bus{nc: nc, js: js, opts: opts}, nil
}

// Publish appends an event to the tenant's partition of the live stream.
// The event id doubles as the JetStream message id, so a duplicate publish
// within the dedupe window is absorbed server-side.
func (b *Bus) Publish(ctx context.Context, env event.Envelope) error {
	return b.publish(ctx, liveSubject(env.Type, env.TenantID), env)
}

// PublishDead appends an event to the per-type dead-letter subject.
func (b *Bus) PublishDead(ctx context.Context, env event.Envelope) error {
	return b.publish(ctx, deadSubject(env.Type, env.TenantID), env)
}

func (b *Bus) publish(ctx context.Context, subject string, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", env.EventID, err)
	}

	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	msg.Header.Set(nats.MsgIdHdr, env.EventID)

	if _, err := b.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe joins the named durable consumer group for the given event types.
func (b *Bus) Subscribe(ctx context.Context, group string, types []event.Type, h bus.Handler) (func(), error) {
	filters := make([]string, len(types))
	for i, typ := range types {
		filters[i] = filterSubject(typ)
	}

	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.opts.Stream, jetstream.ConsumerConfig{
		Durable:        group,
		FilterSubjects: filters,
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        b.opts.AckWait,
		// The retry ceiling is enforced in dispatch so poison messages are
		// recorded as dead letters instead of silently dropped by the server.
		MaxDeliver: -1,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create %s: %w", group, err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		b.dispatch(ctx, group, msg, h)
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume %s: %w", group, err)
	}

	return cons.Stop, nil
}

// dispatch decodes and validates one delivery, then settles it: ack on
// success, nak-with-backoff on transient failure, dead-letter and terminate
// on structural failure or retry exhaustion.
func (b *Bus) dispatch(ctx context.Context, group string, msg jetstream.Msg, h bus.Handler) {
	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	var env event.Envelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		// The envelope itself is garbage; salvage what we can for the record.
		env = event.Envelope{
			EventID: msg.Headers().Get(nats.MsgIdHdr),
			Payload: rawPayload(msg.Data()),
		}
		b.terminate(ctx, group, msg, env, attempt, fmt.Errorf("%w: decode envelope: %v", bus.ErrTerminal, err))
		return
	}
	env.Attempt = attempt - 1

	if err := event.ValidatePayload(env.Type, env.Payload); err != nil {
		b.terminate(ctx, group, msg, env, attempt, fmt.Errorf("%w: %v", bus.ErrTerminal, err))
		return
	}

	err := h(ctx, bus.Delivery{Envelope: env, Attempt: attempt})
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "group", group, "event_id", env.EventID, "error", ackErr)
		}
	case errors.Is(err, bus.ErrTerminal) || attempt >= b.opts.MaxAttempts:
		b.terminate(ctx, group, msg, env, attempt, err)
	default:
		delay := b.opts.Backoff.Delay(attempt)
		slog.Warn("delivery failed, requeueing",
			"group", group,
			"event_id", env.EventID,
			"type", env.Type,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if nakErr := msg.NakWithDelay(delay); nakErr != nil {
			slog.Error("nats nak failed", "group", group, "event_id", env.EventID, "error", nakErr)
		}
	}
}

// rawPayload preserves possibly broken message bytes as a valid JSON value,
// wrapping non-JSON data in a JSON string. The dead-letter record lands in a
// JSONB column; raw garbage would fail the insert and lose the record.
func rawPayload(data []byte) json.RawMessage {
	if json.Valid(data) {
		return data
	}
	quoted, err := json.Marshal(string(data))
	if err != nil {
		return json.RawMessage(`""`)
	}
	return quoted
}

// terminate moves an event to the dead-letter stream and removes it from the
// live queue so it does not block the partition.
func (b *Bus) terminate(ctx context.Context, group string, msg jetstream.Msg, env event.Envelope, attempts int, lastErr error) {
	slog.Error("delivery dead-lettered",
		"group", group,
		"event_id", env.EventID,
		"type", env.Type,
		"tenant_id", env.TenantID,
		"attempts", attempts,
		"error", lastErr,
	)
	if b.opts.DeadLetter != nil {
		b.opts.DeadLetter(ctx, env, attempts, lastErr)
	}
	if err := msg.Term(); err != nil {
		slog.Error("nats term failed", "group", group, "event_id", env.EventID, "error", err)
	}
}

// Drain gracefully drains all subscriptions before closing.
func (b *Bus) Drain() error {
	return b.nc.Drain()
}

// Close shuts down the NATS connection immediately.
func (b *Bus) Close() error {
	b.nc.Close()
	return nil
}

// IsConnected reports whether the connection is currently up.
func (b *Bus) IsConnected() bool {
	return b.nc.IsConnected()
}
