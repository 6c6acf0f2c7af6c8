package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/greenlight-hq/greenlight/internal/domain/approval"
	"github.com/greenlight-hq/greenlight/internal/domain/event"
	"github.com/greenlight-hq/greenlight/internal/domain/routing"
	"github.com/greenlight-hq/greenlight/internal/port/bus"
)

const testTenant = "tenant-1"

func defaultTestPolicy() routing.Policy {
	return routing.Policy{
		AutoThreshold:  0.85,
		QuickThreshold: 0.60,
		QuickTimeout:   24 * time.Hour,
		FullTimeout:    72 * time.Hour,
	}
}

func newTestDispatcher(st *memStore, notify Notifier) *Dispatcher {
	return NewDispatcher(st, NewPolicyService(st, nil, nil), notify, nil, nil)
}

func floatPtr(f float64) *float64 { return &f }

func proposedDelivery(t *testing.T, actionID string, confidence *float64) bus.Delivery {
	t.Helper()
	env, err := event.New(testTenant, event.TypeActionProposed, event.ActionProposedPayload{
		ActionID:     actionID,
		SourceModule: "crm",
		EntityType:   "contact",
		EntityID:     "c-1",
		Confidence:   confidence,
		ProposedAt:   time.Now().UTC(),
	}, "corr-1")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	return bus.Delivery{Envelope: env, Attempt: 1}
}

func outboxTypes(t *testing.T, st *memStore) []event.Type {
	t.Helper()
	rows, err := st.PendingOutbox(context.Background(), 100)
	if err != nil {
		t.Fatalf("pending outbox: %v", err)
	}
	types := make([]event.Type, len(rows))
	for i, r := range rows {
		types[i] = r.Envelope.Type
	}
	return types
}

func TestDispatcherAutoTier(t *testing.T) {
	st := newMemStore()
	_ = st.PutPolicy(context.Background(), testTenant, "crm", defaultTestPolicy())
	d := newTestDispatcher(st, nil)

	if err := d.Handle(context.Background(), proposedDelivery(t, "a-1", floatPtr(0.92))); err != nil {
		t.Fatalf("handle: %v", err)
	}

	item, err := st.GetItem(context.Background(), testTenant, "a-1")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Tier != approval.TierAuto {
		t.Fatalf("expected AUTO tier, got %s", item.Tier)
	}
	if item.State != approval.StateAutoApproved {
		t.Fatalf("expected AUTO_APPROVED, got %s", item.State)
	}
	if item.DecidedBy != approval.SystemActor {
		t.Fatalf("expected system actor, got %q", item.DecidedBy)
	}
	if item.ExpiresAt != nil {
		t.Fatal("auto items must not carry an expiry window")
	}

	types := outboxTypes(t, st)
	if len(types) != 1 || types[0] != event.TypeActionApproved {
		t.Fatalf("expected one action.approved in outbox, got %v", types)
	}
}

func TestDispatcherAutoTierBoundary(t *testing.T) {
	st := newMemStore()
	_ = st.PutPolicy(context.Background(), testTenant, "crm", defaultTestPolicy())
	d := newTestDispatcher(st, nil)

	// Confidence exactly at the auto threshold routes to AUTO.
	if err := d.Handle(context.Background(), proposedDelivery(t, "a-1", floatPtr(0.85))); err != nil {
		t.Fatalf("handle: %v", err)
	}
	item, _ := st.GetItem(context.Background(), testTenant, "a-1")
	if item.Tier != approval.TierAuto {
		t.Fatalf("expected AUTO at boundary, got %s", item.Tier)
	}
}

func TestDispatcherQuickTier(t *testing.T) {
	st := newMemStore()
	_ = st.PutPolicy(context.Background(), testTenant, "crm", defaultTestPolicy())
	notify := &mockNotifier{}
	d := newTestDispatcher(st, notify)

	if err := d.Handle(context.Background(), proposedDelivery(t, "a-1", floatPtr(0.72))); err != nil {
		t.Fatalf("handle: %v", err)
	}

	item, err := st.GetItem(context.Background(), testTenant, "a-1")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.State != approval.StatePendingQuick {
		t.Fatalf("expected PENDING_QUICK, got %s", item.State)
	}
	if item.ExpiresAt == nil {
		t.Fatal("review items must carry an expiry window")
	}
	if item.CorrelationID != "corr-1" {
		t.Fatalf("correlation id not propagated: %q", item.CorrelationID)
	}

	types := outboxTypes(t, st)
	if len(types) != 1 || types[0] != event.TypeApprovalRequested {
		t.Fatalf("expected one approval.requested in outbox, got %v", types)
	}
	if notify.count("approval.created") != 1 {
		t.Fatalf("expected one approval.created broadcast, got %d", notify.count("approval.created"))
	}
}

func TestDispatcherMissingPolicyForcesFullReview(t *testing.T) {
	st := newMemStore()
	d := newTestDispatcher(st, nil)

	if err := d.Handle(context.Background(), proposedDelivery(t, "a-1", floatPtr(0.99))); err != nil {
		t.Fatalf("handle: %v", err)
	}
	item, _ := st.GetItem(context.Background(), testTenant, "a-1")
	if item.Tier != approval.TierFull {
		t.Fatalf("missing policy must force FULL, got %s", item.Tier)
	}
	if item.State != approval.StatePendingFull {
		t.Fatalf("expected PENDING_FULL, got %s", item.State)
	}
	if item.ExpiresAt == nil {
		t.Fatal("expected a default expiry window")
	}
}

func TestDispatcherMissingConfidenceForcesFullReview(t *testing.T) {
	st := newMemStore()
	_ = st.PutPolicy(context.Background(), testTenant, "crm", defaultTestPolicy())
	d := newTestDispatcher(st, nil)

	if err := d.Handle(context.Background(), proposedDelivery(t, "a-1", nil)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	item, _ := st.GetItem(context.Background(), testTenant, "a-1")
	if item.Tier != approval.TierFull {
		t.Fatalf("missing confidence must force FULL, got %s", item.Tier)
	}
	if item.Confidence != 0 {
		t.Fatalf("expected confidence 0, got %v", item.Confidence)
	}
}

func TestDispatcherMalformedPayloadIsTerminal(t *testing.T) {
	st := newMemStore()
	d := newTestDispatcher(st, nil)

	del := bus.Delivery{
		Envelope: event.Envelope{
			EventID:       "e-1",
			Type:          event.TypeActionProposed,
			TenantID:      testTenant,
			CorrelationID: "corr-1",
			Payload:       []byte(`{`),
		},
		Attempt: 1,
	}
	err := d.Handle(context.Background(), del)
	if !errors.Is(err, bus.ErrTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestDispatcherInvalidActionIsTerminal(t *testing.T) {
	st := newMemStore()
	d := newTestDispatcher(st, nil)

	env, err := event.New(testTenant, event.TypeActionProposed, event.ActionProposedPayload{
		ActionID:     "a-1",
		SourceModule: "crm",
		// EntityType / EntityID missing.
		ProposedAt: time.Now().UTC(),
	}, "corr-1")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	herr := d.Handle(context.Background(), bus.Delivery{Envelope: env, Attempt: 1})
	if !errors.Is(herr, bus.ErrTerminal) {
		t.Fatalf("expected terminal error, got %v", herr)
	}
}

func TestDispatcherDuplicateDeliveryAcks(t *testing.T) {
	st := newMemStore()
	_ = st.PutPolicy(context.Background(), testTenant, "crm", defaultTestPolicy())
	d := newTestDispatcher(st, nil)

	del := proposedDelivery(t, "a-1", floatPtr(0.72))
	if err := d.Handle(context.Background(), del); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	del.Attempt = 2
	if err := d.Handle(context.Background(), del); err != nil {
		t.Fatalf("redelivery must ack cleanly: %v", err)
	}

	if types := outboxTypes(t, st); len(types) != 1 {
		t.Fatalf("redelivery must not duplicate follow-up events, got %v", types)
	}
}

func TestDispatcherResumesInterruptedAutoApproval(t *testing.T) {
	st := newMemStore()
	_ = st.PutPolicy(context.Background(), testTenant, "crm", defaultTestPolicy())
	d := newTestDispatcher(st, nil)

	// Simulate a crash after the insert but before the auto-approve swap.
	err := st.CreateItemWithOutbox(context.Background(), &approval.Item{
		ID:            "a-1",
		TenantID:      testTenant,
		SourceModule:  "crm",
		EntityType:    "contact",
		EntityID:      "c-1",
		Confidence:    0.92,
		Tier:          approval.TierAuto,
		State:         approval.StatePendingAuto,
		CorrelationID: "corr-1",
	}, nil)
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}

	if err := d.Handle(context.Background(), proposedDelivery(t, "a-1", floatPtr(0.92))); err != nil {
		t.Fatalf("handle: %v", err)
	}

	item, _ := st.GetItem(context.Background(), testTenant, "a-1")
	if item.State != approval.StateAutoApproved {
		t.Fatalf("expected resumed auto-approval, got %s", item.State)
	}
	types := outboxTypes(t, st)
	if len(types) != 1 || types[0] != event.TypeActionApproved {
		t.Fatalf("expected one action.approved in outbox, got %v", types)
	}
}
