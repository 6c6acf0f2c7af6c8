package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gotel "github.com/greenlight-hq/greenlight/internal/adapter/otel"
	"github.com/greenlight-hq/greenlight/internal/port/bus"
	"github.com/greenlight-hq/greenlight/internal/port/store"
)

// Relay drains the transactional outbox onto the bus. It is the only
// publisher of store-derived events: a row is marked published only after the
// bus accepted it, so a crash mid-batch re-publishes (at-least-once) and
// consumer-side dedupe on eventId absorbs the duplicates.
type Relay struct {
	store    store.Store
	bus      bus.Bus
	metrics  *gotel.Metrics
	log      *slog.Logger
	interval time.Duration
	batch    int
}

// NewRelay creates a Relay. metrics may be nil.
func NewRelay(st store.Store, b bus.Bus, m *gotel.Metrics, log *slog.Logger, interval time.Duration, batch int) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{store: st, bus: b, metrics: m, log: log, interval: interval, batch: batch}
}

// Run flushes on the configured interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil {
				r.log.Error("outbox flush failed", "error", err)
			}
		}
	}
}

// Flush publishes one batch of pending outbox rows in insertion order and
// returns how many were published. A publish failure stops the batch so
// insertion order is preserved; the already-published prefix is still marked.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	rows, err := r.store.PendingOutbox(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("pending outbox: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	ctx, span := gotel.StartRelaySpan(ctx, len(rows))
	defer span.End()

	var published []int64
	var publishErr error
	for _, row := range rows {
		env := row.Envelope
		env.PublishedAt = time.Now().UTC()
		if err := r.bus.Publish(ctx, env); err != nil {
			publishErr = fmt.Errorf("publish outbox event %s: %w", env.EventID, err)
			break
		}
		published = append(published, row.ID)
	}

	if len(published) > 0 {
		if err := r.store.MarkOutboxPublished(ctx, published); err != nil {
			// Rows stay pending and republish next tick; consumers dedupe.
			return len(published), fmt.Errorf("mark outbox published: %w", err)
		}
		if r.metrics != nil {
			r.metrics.EventsPublished.Add(ctx, int64(len(published)))
		}
	}
	return len(published), publishErr
}
