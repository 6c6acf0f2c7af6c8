package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/greenlight-hq/greenlight/internal/adapter/postgres"
	"github.com/greenlight-hq/greenlight/internal/config"
	"github.com/greenlight-hq/greenlight/internal/domain"
	"github.com/greenlight-hq/greenlight/internal/domain/approval"
	"github.com/greenlight-hq/greenlight/internal/domain/event"
	"github.com/greenlight-hq/greenlight/internal/domain/routing"
	"github.com/greenlight-hq/greenlight/internal/port/store"
)

// setupStore creates a pool against DATABASE_URL, runs all migrations, and
// returns a ready-to-use Store. Tests are skipped when no database is
// available.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping postgres integration tests")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	cfg := config.Defaults().Postgres
	cfg.DSN = dsn
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool)
}

func testItem(tenantID string) *approval.Item {
	return &approval.Item{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		SourceModule:  "crm",
		EntityType:    "contact",
		EntityID:      "c-1",
		Confidence:    0.72,
		Tier:          approval.TierQuick,
		State:         approval.StatePendingQuick,
		CorrelationID: uuid.NewString(),
	}
}

func testEnvelope(t *testing.T, tenantID string) event.Envelope {
	t.Helper()
	env, err := event.New(tenantID, event.TypeApprovalRequested, event.ApprovalRequestedPayload{ApprovalID: "x"}, "")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	return env
}

func TestCreateItemIsInsertNotUpsert(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	tenant := uuid.NewString()

	item := testItem(tenant)
	if err := s.CreateItemWithOutbox(ctx, item, nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := s.CreateItemWithOutbox(ctx, item, nil)
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestDecideCASExactlyOneWinner(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	tenant := uuid.NewString()

	item := testItem(tenant)
	if err := s.CreateItemWithOutbox(ctx, item, nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	dec := approval.Decision{Outcome: approval.OutcomeApproved, By: "reviewer-1", At: time.Now().UTC()}
	if _, err := s.DecideWithOutbox(ctx, tenant, item.ID, approval.PendingStates, dec, testEnvelope(t, tenant)); err != nil {
		t.Fatalf("first decide: %v", err)
	}

	rej := approval.Decision{Outcome: approval.OutcomeRejected, By: "reviewer-2", Reason: "nope", At: time.Now().UTC()}
	_, err := s.DecideWithOutbox(ctx, tenant, item.ID, approval.PendingStates, rej, testEnvelope(t, tenant))
	if !errors.Is(err, domain.ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided, got %v", err)
	}

	got, err := s.GetItem(ctx, tenant, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != approval.StateApproved {
		t.Fatalf("expected APPROVED, got %s", got.State)
	}
	if got.DecidedBy != "reviewer-1" {
		t.Fatalf("expected reviewer-1, got %s", got.DecidedBy)
	}
}

func TestDecideUnknownItem(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	dec := approval.Decision{Outcome: approval.OutcomeApproved, By: "r", At: time.Now().UTC()}
	_, err := s.DecideWithOutbox(ctx, uuid.NewString(), uuid.NewString(), approval.PendingStates, dec, testEnvelope(t, "t"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetItemTenantScoped(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	tenant := uuid.NewString()

	item := testItem(tenant)
	if err := s.CreateItemWithOutbox(ctx, item, nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := s.GetItem(ctx, uuid.NewString(), item.ID)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound across tenants, got %v", err)
	}
}

func TestOutboxRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	tenant := uuid.NewString()

	item := testItem(tenant)
	env := testEnvelope(t, tenant)
	if err := s.CreateItemWithOutbox(ctx, item, []event.Envelope{env}); err != nil {
		t.Fatalf("create: %v", err)
	}

	pending, err := s.PendingOutbox(ctx, 1000)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	var row *int64
	for i := range pending {
		if pending[i].Envelope.EventID == env.EventID {
			row = &pending[i].ID
		}
	}
	if row == nil {
		t.Fatal("expected outbox row for the created item")
	}

	if err := s.MarkOutboxPublished(ctx, []int64{*row}); err != nil {
		t.Fatalf("mark published: %v", err)
	}

	pending, err = s.PendingOutbox(ctx, 1000)
	if err != nil {
		t.Fatalf("pending after mark: %v", err)
	}
	for _, p := range pending {
		if p.Envelope.EventID == env.EventID {
			t.Fatal("published row still pending")
		}
	}
}

func TestExpiryDuePicksOnlyElapsedWindows(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	tenant := uuid.NewString()

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	due := testItem(tenant)
	due.ExpiresAt = &past
	fresh := testItem(tenant)
	fresh.ExpiresAt = &future

	for _, it := range []*approval.Item{due, fresh} {
		if err := s.CreateItemWithOutbox(ctx, it, nil); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	items, err := s.ListExpiryDue(ctx, time.Now().UTC(), 1000)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	foundDue, foundFresh := false, false
	for _, it := range items {
		if it.ID == due.ID {
			foundDue = true
		}
		if it.ID == fresh.ID {
			foundFresh = true
		}
	}
	if !foundDue {
		t.Fatal("expected elapsed item in due list")
	}
	if foundFresh {
		t.Fatal("item with a live window must not be listed as due")
	}
}

func TestArchiveLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	tenant := uuid.NewString()

	item := testItem(tenant)
	if err := s.CreateItemWithOutbox(ctx, item, nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Pending items refuse to archive.
	err := s.ArchiveItem(ctx, tenant, item.ID)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for pending item, got %v", err)
	}

	dec := approval.Decision{Outcome: approval.OutcomeApproved, By: "reviewer-1", At: time.Now().UTC()}
	if _, err := s.DecideWithOutbox(ctx, tenant, item.ID, approval.PendingStates, dec, testEnvelope(t, tenant)); err != nil {
		t.Fatalf("decide: %v", err)
	}

	if err := s.ArchiveItem(ctx, tenant, item.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}

	got, err := s.GetItem(ctx, tenant, item.ID)
	if err != nil {
		t.Fatalf("archived item must still fetch by id: %v", err)
	}
	if got.ArchivedAt == nil {
		t.Fatal("expected archived_at stamped")
	}

	items, err := s.ListItems(ctx, tenant, store.ItemFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, it := range items {
		if it.ID == item.ID {
			t.Fatal("archived item must not appear in listings")
		}
	}

	// Redelivered archive is a no-op.
	if err := s.ArchiveItem(ctx, tenant, item.ID); err != nil {
		t.Fatalf("second archive must be idempotent: %v", err)
	}

	if err := s.ArchiveItem(ctx, tenant, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown item, got %v", err)
	}
}

func TestDeadLetterUpsertAndReplay(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	tenant := uuid.NewString()

	rec := &event.DeadLetter{
		EventID:       uuid.NewString(),
		Type:          event.TypeActionProposed,
		TenantID:      tenant,
		CorrelationID: uuid.NewString(),
		Payload:       []byte(`{"actionId":"a1"}`),
		LastError:     "store unavailable",
		Attempts:      8,
		FirstFailedAt: time.Now().UTC().Add(-time.Minute),
		MovedAt:       time.Now().UTC(),
	}
	if err := s.CreateDeadLetter(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Redelivered dead-letter call updates, not duplicates.
	rec.Attempts = 9
	rec.LastError = "still down"
	if err := s.CreateDeadLetter(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetDeadLetter(ctx, tenant, rec.EventID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Attempts != 9 || got.LastError != "still down" {
		t.Fatalf("upsert did not update: %+v", got)
	}
	if got.ReplayedAt != nil {
		t.Fatal("fresh record must not be marked replayed")
	}

	if err := s.MarkDeadLetterReplayed(ctx, tenant, rec.EventID); err != nil {
		t.Fatalf("mark replayed: %v", err)
	}
	got, err = s.GetDeadLetter(ctx, tenant, rec.EventID)
	if err != nil {
		t.Fatalf("get after replay: %v", err)
	}
	if got.ReplayedAt == nil {
		t.Fatal("expected replayed_at to be set")
	}
}

func TestPolicyRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	tenant := uuid.NewString()

	_, err := s.GetPolicy(ctx, tenant, "crm")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	p := routing.Policy{AutoThreshold: 0.9, QuickThreshold: 0.5, QuickTimeout: 4 * time.Hour, FullTimeout: 48 * time.Hour}
	if err := s.PutPolicy(ctx, tenant, "crm", p); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.GetPolicy(ctx, tenant, "crm")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AutoThreshold != 0.9 || got.QuickTimeout != 4*time.Hour {
		t.Fatalf("unexpected policy: %+v", got)
	}

	p.AutoThreshold = 0.95
	if err := s.PutPolicy(ctx, tenant, "crm", p); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = s.GetPolicy(ctx, tenant, "crm")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.AutoThreshold != 0.95 {
		t.Fatalf("expected updated threshold, got %v", got.AutoThreshold)
	}
}
