package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	gotel "github.com/greenlight-hq/greenlight/internal/adapter/otel"
	"github.com/greenlight-hq/greenlight/internal/adapter/ws"
	"github.com/greenlight-hq/greenlight/internal/domain/event"
	"github.com/greenlight-hq/greenlight/internal/port/bus"
	"github.com/greenlight-hq/greenlight/internal/port/store"
)

// DLQService records dead-lettered events and replays them on operator
// request.
type DLQService struct {
	store   store.Store
	bus     bus.Bus
	notify  Notifier
	metrics *gotel.Metrics
	log     *slog.Logger
}

// NewDLQService creates a DLQService. notify and metrics may be nil.
func NewDLQService(st store.Store, b bus.Bus, notify Notifier, m *gotel.Metrics, log *slog.Logger) *DLQService {
	if log == nil {
		log = slog.Default()
	}
	return &DLQService{store: st, bus: b, notify: notify, metrics: m, log: log}
}

// Record is the transport's dead-letter callback. It persists the record,
// mirrors the event onto the dead-letter stream, and alerts connected
// operators. Idempotent: the record upserts on event id, and the stream
// publish dedupes on it.
func (s *DLQService) Record(ctx context.Context, env event.Envelope, attempts int, lastErr error) {
	now := time.Now().UTC()
	// The transport does not expose per-attempt timestamps. The first failure
	// happened on the first delivery, so the publish time is the closest
	// anchor; dead-letter time would put it at the end of the retry run.
	firstFailed := env.PublishedAt
	if firstFailed.IsZero() {
		firstFailed = now
	}
	rec := &event.DeadLetter{
		EventID:       env.EventID,
		Type:          env.Type,
		TenantID:      env.TenantID,
		CorrelationID: env.CorrelationID,
		Payload:       env.Payload,
		LastError:     lastErr.Error(),
		Attempts:      attempts,
		FirstFailedAt: firstFailed,
		MovedAt:       now,
	}
	if err := s.store.CreateDeadLetter(ctx, rec); err != nil {
		s.log.Error("record dead letter failed", "event_id", env.EventID, "error", err)
		return
	}
	if err := s.bus.PublishDead(ctx, env); err != nil {
		s.log.Error("publish dead letter failed", "event_id", env.EventID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.EventsDeadLettered.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event_type", string(env.Type))))
	}
	if s.notify != nil {
		s.notify.BroadcastEvent(ctx, env.TenantID, ws.EventDeadLettered, ws.DeadLetteredEvent{
			EventID:       env.EventID,
			EventType:     string(env.Type),
			LastError:     rec.LastError,
			Attempts:      attempts,
			CorrelationID: env.CorrelationID,
		})
	}
	s.log.Warn("event dead-lettered",
		"event_id", env.EventID,
		"event_type", env.Type,
		"tenant_id", env.TenantID,
		"attempts", attempts,
		"last_error", rec.LastError)
}

// Replay re-publishes a dead-lettered event to the live stream with the
// attempt counter reset and the same event id, then stamps the record.
// Dead letters never replay on their own; this is the only path back.
func (s *DLQService) Replay(ctx context.Context, tenantID, eventID string) (*event.DeadLetter, error) {
	rec, err := s.store.GetDeadLetter(ctx, tenantID, eventID)
	if err != nil {
		return nil, err
	}

	env := event.Envelope{
		EventID:       rec.EventID,
		Type:          rec.Type,
		TenantID:      rec.TenantID,
		CorrelationID: rec.CorrelationID,
		Attempt:       0,
		PublishedAt:   time.Now().UTC(),
		Payload:       rec.Payload,
	}
	if err := s.bus.Publish(ctx, env); err != nil {
		return nil, fmt.Errorf("replay event %s: %w", eventID, err)
	}
	if err := s.store.MarkDeadLetterReplayed(ctx, tenantID, eventID); err != nil {
		return nil, err
	}

	s.log.Info("dead letter replayed", "event_id", eventID, "tenant_id", tenantID)
	return s.store.GetDeadLetter(ctx, tenantID, eventID)
}

// Get returns one dead-letter record scoped to the tenant.
func (s *DLQService) Get(ctx context.Context, tenantID, eventID string) (*event.DeadLetter, error) {
	return s.store.GetDeadLetter(ctx, tenantID, eventID)
}

// List returns a page of dead letters for the tenant, newest first.
func (s *DLQService) List(ctx context.Context, tenantID string, limit, offset int) ([]event.DeadLetter, error) {
	return s.store.ListDeadLetters(ctx, tenantID, limit, offset)
}
