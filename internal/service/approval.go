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

// ApprovalService records human decisions and serves the review queue.
type ApprovalService struct {
	store   store.Store
	notify  Notifier
	metrics *gotel.Metrics
	log     *slog.Logger
}

// NewApprovalService creates an ApprovalService. notify and metrics may be nil.
func NewApprovalService(st store.Store, notify Notifier, m *gotel.Metrics, log *slog.Logger) *ApprovalService {
	if log == nil {
		log = slog.Default()
	}
	return &ApprovalService{store: st, notify: notify, metrics: m, log: log}
}

// Approve transitions a pending item to APPROVED and queues approval.granted.
func (s *ApprovalService) Approve(ctx context.Context, tenantID, id, decidedBy, reason string) (*approval.Item, error) {
	if decidedBy == "" {
		return nil, fmt.Errorf("%w: decidedBy is required", domain.ErrValidation)
	}
	return s.decide(ctx, tenantID, id, approval.Decision{
		Outcome: approval.OutcomeApproved,
		By:      decidedBy,
		Reason:  reason,
		At:      time.Now().UTC(),
	}, event.TypeApprovalGranted)
}

// Reject transitions a pending item to REJECTED and queues approval.rejected.
// A reason is mandatory: rejections feed back into agent tuning.
func (s *ApprovalService) Reject(ctx context.Context, tenantID, id, decidedBy, reason string) (*approval.Item, error) {
	if decidedBy == "" {
		return nil, fmt.Errorf("%w: decidedBy is required", domain.ErrValidation)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required to reject", domain.ErrValidation)
	}
	return s.decide(ctx, tenantID, id, approval.Decision{
		Outcome: approval.OutcomeRejected,
		By:      decidedBy,
		Reason:  reason,
		At:      time.Now().UTC(),
	}, event.TypeApprovalRejected)
}

// decide runs the CAS transition. On ErrAlreadyDecided the existing item is
// returned alongside the error so callers can report who won the race.
func (s *ApprovalService) decide(ctx context.Context, tenantID, id string, dec approval.Decision, typ event.Type) (*approval.Item, error) {
	ctx, span := gotel.StartDecisionSpan(ctx, id, string(dec.Outcome))
	defer span.End()

	item, err := s.store.GetItem(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if item.State.Terminal() {
		return item, fmt.Errorf("approval item %s in state %s: %w", id, item.State, domain.ErrAlreadyDecided)
	}

	env, err := event.New(tenantID, typ, event.ApprovalDecidedPayload{
		ApprovalID: item.ID,
		ActionID:   item.ID,
		Outcome:    string(dec.Outcome),
		DecidedBy:  dec.By,
		Reason:     dec.Reason,
		DecidedAt:  dec.At,
	}, item.CorrelationID)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", typ, err)
	}

	decided, err := s.store.DecideWithOutbox(ctx, tenantID, id, approval.PendingStates, dec, env)
	if errors.Is(err, domain.ErrAlreadyDecided) {
		if winner, gerr := s.store.GetItem(ctx, tenantID, id); gerr == nil {
			return winner, err
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	s.observeDecision(ctx, decided)
	if s.notify != nil {
		s.notify.BroadcastEvent(ctx, tenantID, ws.EventApprovalDecided, ws.ApprovalDecidedEvent{
			ApprovalID:    decided.ID,
			State:         string(decided.State),
			DecidedBy:     decided.DecidedBy,
			Reason:        decided.Reason,
			CorrelationID: decided.CorrelationID,
		})
	}
	s.log.Info("approval decided",
		"approval_id", decided.ID,
		"tenant_id", tenantID,
		"state", decided.State,
		"decided_by", dec.By,
		"correlation_id", decided.CorrelationID)
	return decided, nil
}

// Get returns one approval item scoped to the tenant.
func (s *ApprovalService) Get(ctx context.Context, tenantID, id string) (*approval.Item, error) {
	return s.store.GetItem(ctx, tenantID, id)
}

// List returns a page of approval items for the tenant.
func (s *ApprovalService) List(ctx context.Context, tenantID string, f store.ItemFilter) ([]approval.Item, error) {
	return s.store.ListItems(ctx, tenantID, f)
}

// Archive stamps a decided item as archived so it drops out of listings while
// the row stays for audit. Archiving is idempotent; a pending item refuses
// with domain.ErrValidation.
func (s *ApprovalService) Archive(ctx context.Context, tenantID, id string) (*approval.Item, error) {
	if err := s.store.ArchiveItem(ctx, tenantID, id); err != nil {
		return nil, err
	}
	item, err := s.store.GetItem(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("approval archived",
		"approval_id", id,
		"tenant_id", tenantID,
		"state", item.State)
	return item, nil
}

// AuditTrail is the export of everything sharing one correlation id.
type AuditTrail struct {
	CorrelationID string              `json:"correlationId"`
	Items         []approval.Item     `json:"items"`
	Events        []store.OutboxEvent `json:"events"`
}

// Audit collects the full trail for a correlation id: every approval item and
// every event the workflow produced, oldest first.
func (s *ApprovalService) Audit(ctx context.Context, tenantID, correlationID string) (*AuditTrail, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("%w: correlationId is required", domain.ErrValidation)
	}
	items, err := s.store.ListItemsByCorrelation(ctx, tenantID, correlationID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListOutboxByCorrelation(ctx, tenantID, correlationID)
	if err != nil {
		return nil, err
	}
	return &AuditTrail{CorrelationID: correlationID, Items: items, Events: events}, nil
}

func (s *ApprovalService) observeDecision(ctx context.Context, item *approval.Item) {
	if s.metrics == nil {
		return
	}
	s.metrics.DecisionsRecorded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", string(item.State)),
		attribute.String("tier", string(item.Tier))))
}
