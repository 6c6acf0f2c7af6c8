package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/greenlight-hq/greenlight/internal/domain"
	"github.com/greenlight-hq/greenlight/internal/domain/approval"
	"github.com/greenlight-hq/greenlight/internal/domain/event"
	"github.com/greenlight-hq/greenlight/internal/port/store"
)

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const uniqueViolation = "23505"

// itemColumns is the SELECT column list for approval_items queries.
const itemColumns = `id, tenant_id, source_module, entity_type, entity_id, confidence, tier, state,
	decided_by, decided_at, reason, correlation_id, payload, expires_at, archived_at, created_at, updated_at`

// scanItem scans a row into an approval.Item.
func scanItem(scanner interface{ Scan(dest ...any) error }, it *approval.Item) error {
	return scanner.Scan(
		&it.ID, &it.TenantID, &it.SourceModule, &it.EntityType, &it.EntityID,
		&it.Confidence, &it.Tier, &it.State,
		&it.DecidedBy, &it.DecidedAt, &it.Reason, &it.CorrelationID,
		&it.Payload, &it.ExpiresAt, &it.ArchivedAt, &it.CreatedAt, &it.UpdatedAt,
	)
}

// CreateItemWithOutbox inserts a new approval item plus its follow-up events
// in one transaction. Insert, not upsert: a duplicate id surfaces loudly as
// domain.ErrAlreadyExists so the dispatcher's idempotency path handles it.
func (s *Store) CreateItemWithOutbox(ctx context.Context, item *approval.Item, outbox []event.Envelope) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create item: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO approval_items
		   (id, tenant_id, source_module, entity_type, entity_id, confidence, tier, state,
		    correlation_id, payload, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		item.ID, item.TenantID, item.SourceModule, item.EntityType, item.EntityID,
		item.Confidence, item.Tier, item.State, item.CorrelationID, item.Payload, item.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("approval item %s: %w", item.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert approval item %s: %w", item.ID, err)
	}

	if err := insertOutbox(ctx, tx, outbox); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create item: %w", err)
	}
	return nil
}

// GetItem returns the approval item scoped to the tenant.
func (s *Store) GetItem(ctx context.Context, tenantID, id string) (*approval.Item, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM approval_items WHERE id = $1 AND tenant_id = $2`, itemColumns),
		id, tenantID)

	var it approval.Item
	if err := scanItem(row, &it); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("approval item %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get approval item %s: %w", id, err)
	}
	return &it, nil
}

// ListItems returns a page of approval items for the tenant, newest first.
func (s *Store) ListItems(ctx context.Context, tenantID string, f store.ItemFilter) ([]approval.Item, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`SELECT %s FROM approval_items WHERE tenant_id = $1 AND archived_at IS NULL`, itemColumns)
	args := []any{tenantID}
	if f.State != "" {
		args = append(args, f.State)
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}
	if f.Tier != "" {
		args = append(args, f.Tier)
		query += fmt.Sprintf(" AND tier = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approval items: %w", err)
	}
	defer rows.Close()

	var items []approval.Item
	for rows.Next() {
		var it approval.Item
		if err := scanItem(rows, &it); err != nil {
			return nil, fmt.Errorf("scan approval item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// DecideWithOutbox performs the conditional (compare-and-swap) terminal
// transition and writes the decision event in the same transaction. Two
// concurrent decisions on one item produce exactly one winner; the loser
// observes domain.ErrAlreadyDecided and no outbox row.
func (s *Store) DecideWithOutbox(ctx context.Context, tenantID, id string, from []approval.State, dec approval.Decision, env event.Envelope) (*approval.Item, error) {
	state, err := dec.Outcome.State()
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin decide: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	fromStates := make([]string, len(from))
	for i, st := range from {
		fromStates[i] = string(st)
	}

	row := tx.QueryRow(ctx,
		fmt.Sprintf(`UPDATE approval_items
		 SET state = $1, decided_by = $2, decided_at = $3, reason = $4, updated_at = now()
		 WHERE id = $5 AND tenant_id = $6 AND state = ANY($7)
		 RETURNING %s`, itemColumns),
		state, dec.By, dec.At, dec.Reason, id, tenantID, fromStates)

	var it approval.Item
	if err := scanItem(row, &it); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.decideConflict(ctx, tenantID, id)
		}
		return nil, fmt.Errorf("decide approval item %s: %w", id, err)
	}

	if err := insertOutbox(ctx, tx, []event.Envelope{env}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit decide: %w", err)
	}
	return &it, nil
}

// decideConflict distinguishes "item missing" from "item already decided"
// after a zero-row CAS update.
func (s *Store) decideConflict(ctx context.Context, tenantID, id string) error {
	var state approval.State
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM approval_items WHERE id = $1 AND tenant_id = $2`,
		id, tenantID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("approval item %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("inspect approval item %s: %w", id, err)
	}
	return fmt.Errorf("approval item %s in state %s: %w", id, state, domain.ErrAlreadyDecided)
}

// ArchiveItem stamps archived_at on a decided item. The row stays for audit;
// ListItems stops returning it. Only terminal states archive: hiding a
// pending item would strand an undecided action.
func (s *Store) ArchiveItem(ctx context.Context, tenantID, id string) error {
	terminal := []string{
		string(approval.StateApproved),
		string(approval.StateRejected),
		string(approval.StateAutoApproved),
		string(approval.StateExpired),
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE approval_items
		 SET archived_at = now(), updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND archived_at IS NULL AND state = ANY($3)`,
		id, tenantID, terminal)
	if err != nil {
		return fmt.Errorf("archive approval item %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.archiveConflict(ctx, tenantID, id)
	}
	return nil
}

// archiveConflict distinguishes missing, already-archived, and still-pending
// items after a zero-row archive update.
func (s *Store) archiveConflict(ctx context.Context, tenantID, id string) error {
	var (
		state    approval.State
		archived *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT state, archived_at FROM approval_items WHERE id = $1 AND tenant_id = $2`,
		id, tenantID).Scan(&state, &archived)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("approval item %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("inspect approval item %s: %w", id, err)
	}
	if archived != nil {
		// Redelivered archive; nothing left to do.
		return nil
	}
	return fmt.Errorf("%w: approval item %s in state %s cannot be archived before a decision", domain.ErrValidation, id, state)
}

// ListExpiryDue returns pending items whose approval window elapsed.
func (s *Store) ListExpiryDue(ctx context.Context, now time.Time, limit int) ([]approval.Item, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM approval_items
		 WHERE state = ANY($1) AND expires_at IS NOT NULL AND expires_at <= $2
		 ORDER BY expires_at ASC LIMIT $3`, itemColumns),
		[]string{string(approval.StatePendingQuick), string(approval.StatePendingFull)}, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expiry due: %w", err)
	}
	defer rows.Close()

	var items []approval.Item
	for rows.Next() {
		var it approval.Item
		if err := scanItem(rows, &it); err != nil {
			return nil, fmt.Errorf("scan expiry item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListItemsByCorrelation returns every item in the tenant sharing a
// correlation id, oldest first, for audit export.
func (s *Store) ListItemsByCorrelation(ctx context.Context, tenantID, correlationID string) ([]approval.Item, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM approval_items
		 WHERE tenant_id = $1 AND correlation_id = $2 ORDER BY created_at ASC`, itemColumns),
		tenantID, correlationID)
	if err != nil {
		return nil, fmt.Errorf("list items by correlation: %w", err)
	}
	defer rows.Close()

	var items []approval.Item
	for rows.Next() {
		var it approval.Item
		if err := scanItem(rows, &it); err != nil {
			return nil, fmt.Errorf("scan correlated item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
