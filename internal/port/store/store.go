// Package store defines the persistence port (interface) for approval items,
// the transactional outbox, dead letters, and tenant policies.
package store

import (
	"context"
	"time"

	"github.com/greenlight-hq/greenlight/internal/domain/approval"
	"github.com/greenlight-hq/greenlight/internal/domain/event"
	"github.com/greenlight-hq/greenlight/internal/domain/routing"
)

// OutboxEvent is one row of the transactional outbox: an envelope written in
// the same local transaction as the state change that caused it, published by
// the relay afterwards.
type OutboxEvent struct {
	ID          int64
	Envelope    event.Envelope
	PublishedAt *time.Time
	CreatedAt   time.Time
}

// ItemFilter selects approval items for listing. Zero values mean "any".
type ItemFilter struct {
	State  approval.State
	Tier   approval.Tier
	Limit  int
	Offset int
}

// Store is the persistence port. The approval store is the single source of
// truth for decision state; the bus is never consulted for "has this been
// decided".
type Store interface {
	// CreateItemWithOutbox inserts a new approval item and its follow-up
	// events in one transaction. Returns domain.ErrAlreadyExists when an
	// item with the same id exists (redelivered create).
	CreateItemWithOutbox(ctx context.Context, item *approval.Item, outbox []event.Envelope) error

	// GetItem returns the item scoped to the tenant, or domain.ErrNotFound.
	GetItem(ctx context.Context, tenantID, id string) (*approval.Item, error)

	// ListItems returns a page of items for the tenant.
	ListItems(ctx context.Context, tenantID string, f ItemFilter) ([]approval.Item, error)

	// DecideWithOutbox performs the compare-and-swap transition from one of
	// the given pending states and writes the decision event to the outbox
	// in the same transaction. Exactly one of two concurrent callers wins;
	// the loser gets domain.ErrAlreadyDecided (or domain.ErrNotFound when
	// the item does not exist).
	DecideWithOutbox(ctx context.Context, tenantID, id string, from []approval.State, dec approval.Decision, env event.Envelope) (*approval.Item, error)

	// ArchiveItem stamps archived_at on a decided item so listings stop
	// showing it while the row and its audit trail remain. Archiving an
	// already-archived item is a no-op; a pending item returns
	// domain.ErrValidation, an unknown one domain.ErrNotFound.
	ArchiveItem(ctx context.Context, tenantID, id string) error

	// ListExpiryDue returns pending items whose approval window elapsed
	// before now. The caller expires each via DecideWithOutbox so the same
	// CAS guard applies to timeouts as to human decisions.
	ListExpiryDue(ctx context.Context, now time.Time, limit int) ([]approval.Item, error)

	// ListItemsByCorrelation returns every item sharing a correlation id,
	// for audit export.
	ListItemsByCorrelation(ctx context.Context, tenantID, correlationID string) ([]approval.Item, error)

	// PendingOutbox returns unpublished outbox rows in insertion order.
	PendingOutbox(ctx context.Context, limit int) ([]OutboxEvent, error)

	// MarkOutboxPublished stamps the given rows as published.
	MarkOutboxPublished(ctx context.Context, ids []int64) error

	// ListOutboxByCorrelation returns outbox rows sharing a correlation id,
	// for audit export.
	ListOutboxByCorrelation(ctx context.Context, tenantID, correlationID string) ([]OutboxEvent, error)

	// CreateDeadLetter records a dead-lettered event. Upserts on event id
	// so a redelivered dead-letter updates attempts and last error.
	CreateDeadLetter(ctx context.Context, rec *event.DeadLetter) error

	// GetDeadLetter returns the record for the tenant, or domain.ErrNotFound.
	GetDeadLetter(ctx context.Context, tenantID, eventID string) (*event.DeadLetter, error)

	// ListDeadLetters returns a page of dead letters for the tenant.
	ListDeadLetters(ctx context.Context, tenantID string, limit, offset int) ([]event.DeadLetter, error)

	// MarkDeadLetterReplayed stamps the record after an operator replay.
	MarkDeadLetterReplayed(ctx context.Context, tenantID, eventID string) error

	// GetPolicy returns the tenant/module policy, or domain.ErrNotFound.
	GetPolicy(ctx context.Context, tenantID, module string) (*routing.Policy, error)

	// PutPolicy upserts the tenant/module policy.
	PutPolicy(ctx context.Context, tenantID, module string, p routing.Policy) error
}
