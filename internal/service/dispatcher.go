package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	gotel "github.com/greenlight-hq/greenlight/internal/adapter/otel"
	"github.com/greenlight-hq/greenlight/internal/adapter/ws"
	"github.com/greenlight-hq/greenlight/internal/domain"
	"github.com/greenlight-hq/greenlight/internal/domain/action"
	"github.com/greenlight-hq/greenlight/internal/domain/approval"
	"github.com/greenlight-hq/greenlight/internal/domain/event"
	"github.com/greenlight-hq/greenlight/internal/domain/routing"
	"github.com/greenlight-hq/greenlight/internal/port/bus"
	"github.com/greenlight-hq/greenlight/internal/port/store"
)

// Notifier pushes lifecycle events to connected reviewer clients.
type Notifier interface {
	BroadcastEvent(ctx context.Context, tenantID, eventType string, payload any)
}

// Dispatcher consumes action.proposed events, classifies them, and persists
// the resulting approval item plus its follow-up events through the outbox.
// Follow-up events are never published inline: the relay owns publishing, so
// a crash after the store commit cannot lose them.
type Dispatcher struct {
	store    store.Store
	policies *PolicyService
	notify   Notifier
	metrics  *gotel.Metrics
	log      *slog.Logger
}

// NewDispatcher creates a Dispatcher. notify and metrics may be nil.
func NewDispatcher(st store.Store, policies *PolicyService, notify Notifier, m *gotel.Metrics, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{store: st, policies: policies, notify: notify, metrics: m, log: log}
}

// Handle is the consumer-group handler for action.proposed deliveries.
// Structural failures are terminal (dead-lettered immediately); store and
// policy failures return a plain error so the transport retries with backoff.
func (d *Dispatcher) Handle(ctx context.Context, del bus.Delivery) error {
	env := del.Envelope
	ctx, span := gotel.StartDispatchSpan(ctx, env.EventID, env.TenantID, env.CorrelationID)
	defer span.End()
	start := time.Now()

	var p event.ActionProposedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("decode action.proposed payload: %v: %w", err, bus.ErrTerminal)
	}

	act := &action.CandidateAction{
		ID:           p.ActionID,
		TenantID:     env.TenantID,
		SourceModule: p.SourceModule,
		EntityType:   p.EntityType,
		EntityID:     p.EntityID,
		Confidence:   p.Confidence,
		Payload:      p.Payload,
		ProposedAt:   p.ProposedAt,
	}
	if err := act.Validate(); err != nil {
		return fmt.Errorf("candidate action %s: %v: %w", p.ActionID, err, bus.ErrTerminal)
	}

	// Redelivery: the item id is the action id, so an existing row means a
	// previous attempt already routed this action.
	existing, err := d.store.GetItem(ctx, act.TenantID, act.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("idempotency check %s: %w", act.ID, err)
	}
	if existing != nil {
		return d.resume(ctx, existing, env)
	}

	tier, pol, err := d.classify(ctx, act)
	if err != nil {
		return err
	}

	item, err := d.route(ctx, act, env, tier, pol)
	if errors.Is(err, domain.ErrAlreadyExists) {
		// Lost a create race with a concurrent redelivery; defer to the row
		// that won.
		existing, gerr := d.store.GetItem(ctx, act.TenantID, act.ID)
		if gerr != nil {
			return fmt.Errorf("refetch after create race %s: %w", act.ID, gerr)
		}
		return d.resume(ctx, existing, env)
	}
	if err != nil {
		return err
	}

	if tier == approval.TierAuto {
		if err := d.autoApprove(ctx, item, env); err != nil {
			return err
		}
	}

	d.observeRouted(ctx, item, time.Since(start))
	d.log.Info("action routed",
		"action_id", act.ID,
		"tenant_id", act.TenantID,
		"source_module", act.SourceModule,
		"confidence", act.EffectiveConfidence(),
		"tier", item.Tier,
		"correlation_id", env.CorrelationID)
	return nil
}

// classify resolves the tenant policy and maps the confidence onto a tier.
// A missing policy fails safe to full review, never open to auto.
func (d *Dispatcher) classify(ctx context.Context, act *action.CandidateAction) (approval.Tier, routing.Policy, error) {
	module := string(action.ParseModule(act.SourceModule))
	pol, found, err := d.policies.Resolve(ctx, act.TenantID, module)
	if err != nil {
		return "", routing.Policy{}, fmt.Errorf("classify %s: %w", act.ID, err)
	}
	if !found {
		d.log.Warn("routing policy missing, forcing full review",
			"tenant_id", act.TenantID, "source_module", module)
		return approval.TierFull, routing.Policy{FullTimeout: routing.DefaultFullTimeout}, nil
	}
	return routing.Classify(act.EffectiveConfidence(), pol), pol, nil
}

// route inserts the approval item, with the approval.requested follow-up in
// the same transaction for review tiers. AUTO items are inserted bare; their
// follow-up is written by the auto-approve transition.
func (d *Dispatcher) route(ctx context.Context, act *action.CandidateAction, env event.Envelope, tier approval.Tier, pol routing.Policy) (*approval.Item, error) {
	item := &approval.Item{
		ID:            act.ID,
		TenantID:      act.TenantID,
		SourceModule:  act.SourceModule,
		EntityType:    act.EntityType,
		EntityID:      act.EntityID,
		Confidence:    act.EffectiveConfidence(),
		Tier:          tier,
		State:         approval.StateForTier(tier),
		CorrelationID: env.CorrelationID,
		Payload:       act.Payload,
	}
	if timeout := pol.TimeoutFor(tier); timeout > 0 {
		exp := time.Now().UTC().Add(timeout)
		item.ExpiresAt = &exp
	}

	var outbox []event.Envelope
	if tier != approval.TierAuto {
		req, err := env.Derive(event.TypeApprovalRequested, event.ApprovalRequestedPayload{
			ApprovalID:   item.ID,
			ActionID:     act.ID,
			Tier:         string(tier),
			SourceModule: act.SourceModule,
			EntityType:   act.EntityType,
			EntityID:     act.EntityID,
			Confidence:   item.Confidence,
			ExpiresAt:    item.ExpiresAt,
		})
		if err != nil {
			return nil, fmt.Errorf("build approval.requested: %w", err)
		}
		outbox = append(outbox, req)
	}

	if err := d.store.CreateItemWithOutbox(ctx, item, outbox); err != nil {
		return nil, err
	}

	if tier != approval.TierAuto && d.notify != nil {
		d.notify.BroadcastEvent(ctx, item.TenantID, ws.EventApprovalCreated, ws.ApprovalCreatedEvent{
			ApprovalID:    item.ID,
			SourceModule:  item.SourceModule,
			EntityType:    item.EntityType,
			EntityID:      item.EntityID,
			Tier:          string(item.Tier),
			Confidence:    item.Confidence,
			CorrelationID: item.CorrelationID,
		})
	}
	return item, nil
}

// autoApprove performs the PENDING_AUTO -> AUTO_APPROVED transition and
// writes the action.approved execution trigger in the same transaction.
func (d *Dispatcher) autoApprove(ctx context.Context, item *approval.Item, env event.Envelope) error {
	trigger, err := env.Derive(event.TypeActionApproved, event.ActionApprovedPayload{
		ActionID:     item.ID,
		ApprovalID:   item.ID,
		Tier:         string(approval.TierAuto),
		DecidedBy:    approval.SystemActor,
		SourceModule: item.SourceModule,
		EntityType:   item.EntityType,
		EntityID:     item.EntityID,
		Payload:      item.Payload,
	})
	if err != nil {
		return fmt.Errorf("build action.approved: %w", err)
	}

	dec := approval.Decision{
		Outcome: approval.OutcomeAutoApproved,
		By:      approval.SystemActor,
		At:      time.Now().UTC(),
	}
	_, err = d.store.DecideWithOutbox(ctx, item.TenantID, item.ID,
		[]approval.State{approval.StatePendingAuto}, dec, trigger)
	if errors.Is(err, domain.ErrAlreadyDecided) {
		// A concurrent redelivery finished the transition first.
		return nil
	}
	if err != nil {
		return fmt.Errorf("auto-approve %s: %w", item.ID, err)
	}
	return nil
}

// resume handles a redelivered action.proposed whose item already exists.
// Decided and review-pending items just ack; an item stuck in PENDING_AUTO
// means a crash between insert and auto-approve, so the transition is retried.
func (d *Dispatcher) resume(ctx context.Context, item *approval.Item, env event.Envelope) error {
	if item.State != approval.StatePendingAuto {
		d.log.Debug("duplicate action.proposed ignored",
			"action_id", item.ID, "tenant_id", item.TenantID, "state", item.State)
		return nil
	}
	return d.autoApprove(ctx, item, env)
}

func (d *Dispatcher) observeRouted(ctx context.Context, item *approval.Item, took time.Duration) {
	if d.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tier", string(item.Tier)),
		attribute.String("source_module", item.SourceModule))
	d.metrics.ActionsRouted.Add(ctx, 1, attrs)
	d.metrics.DispatchDuration.Record(ctx, took.Seconds(), attrs)
}
