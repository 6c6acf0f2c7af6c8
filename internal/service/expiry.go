package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	gotel "github.com/greenlight-hq/greenlight/internal/adapter/otel"
	"github.com/greenlight-hq/greenlight/internal/adapter/ws"
	"github.com/greenlight-hq/greenlight/internal/domain"
	"github.com/greenlight-hq/greenlight/internal/domain/approval"
	"github.com/greenlight-hq/greenlight/internal/domain/event"
	"github.com/greenlight-hq/greenlight/internal/port/store"
)

const expiryReason = "approval window elapsed"

// Sweeper expires pending approvals whose window elapsed. A periodic scan
// replaces per-item timers; each due item is transitioned through the same
// CAS guard as human decisions, so a decision landing mid-sweep always wins.
type Sweeper struct {
	store    store.Store
	notify   Notifier
	metrics  *gotel.Metrics
	log      *slog.Logger
	interval time.Duration
	batch    int
}

// NewSweeper creates a Sweeper. notify and metrics may be nil.
func NewSweeper(st store.Store, notify Notifier, m *gotel.Metrics, log *slog.Logger, interval time.Duration, batch int) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{store: st, notify: notify, metrics: m, log: log, interval: interval, batch: batch}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.log.Error("expiry sweep failed", "error", err)
			} else if n > 0 {
				s.log.Info("expired pending approvals", "count", n)
			}
		}
	}
}

// Sweep expires every due item once and returns how many it transitioned.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	items, err := s.store.ListExpiryDue(ctx, time.Now().UTC(), s.batch)
	if err != nil {
		return 0, fmt.Errorf("list expiry due: %w", err)
	}

	expired := 0
	for i := range items {
		if err := s.expire(ctx, &items[i]); err != nil {
			s.log.Error("expire approval failed",
				"approval_id", items[i].ID, "tenant_id", items[i].TenantID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Sweeper) expire(ctx context.Context, item *approval.Item) error {
	dec := approval.Decision{
		Outcome: approval.OutcomeExpired,
		By:      approval.SystemActor,
		Reason:  expiryReason,
		At:      time.Now().UTC(),
	}
	env, err := event.New(item.TenantID, event.TypeApprovalExpired, event.ApprovalDecidedPayload{
		ApprovalID: item.ID,
		ActionID:   item.ID,
		Outcome:    string(dec.Outcome),
		DecidedBy:  dec.By,
		Reason:     dec.Reason,
		DecidedAt:  dec.At,
	}, item.CorrelationID)
	if err != nil {
		return fmt.Errorf("build approval.expired: %w", err)
	}

	expired, err := s.store.DecideWithOutbox(ctx, item.TenantID, item.ID, approval.PendingStates, dec, env)
	if errors.Is(err, domain.ErrAlreadyDecided) {
		// A human decision landed between the scan and the swap.
		return nil
	}
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.ApprovalsExpired.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tier", string(expired.Tier))))
	}
	if s.notify != nil {
		s.notify.BroadcastEvent(ctx, expired.TenantID, ws.EventApprovalDecided, ws.ApprovalDecidedEvent{
			ApprovalID:    expired.ID,
			State:         string(expired.State),
			DecidedBy:     expired.DecidedBy,
			Reason:        expired.Reason,
			CorrelationID: expired.CorrelationID,
		})
	}
	return nil
}
