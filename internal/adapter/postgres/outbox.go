package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/greenlight-hq/greenlight/internal/domain/event"
	"github.com/greenlight-hq/greenlight/internal/port/store"
)

// insertOutbox appends envelopes to the outbox inside the caller's
// transaction, so the publish intent commits if and only if the state change
// does.
func insertOutbox(ctx context.Context, tx pgx.Tx, envs []event.Envelope) error {
	for _, env := range envs {
		_, err := tx.Exec(ctx,
			`INSERT INTO outbox_events (event_id, event_type, tenant_id, correlation_id, payload)
			 VALUES ($1, $2, $3, $4, $5)`,
			env.EventID, env.Type, env.TenantID, env.CorrelationID, env.Payload)
		if err != nil {
			return fmt.Errorf("insert outbox event %s: %w", env.EventID, err)
		}
	}
	return nil
}

const outboxColumns = `id, event_id, event_type, tenant_id, correlation_id, payload, published_at, created_at`

func scanOutbox(scanner interface{ Scan(dest ...any) error }, row *store.OutboxEvent) error {
	return scanner.Scan(
		&row.ID, &row.Envelope.EventID, &row.Envelope.Type, &row.Envelope.TenantID,
		&row.Envelope.CorrelationID, &row.Envelope.Payload, &row.PublishedAt, &row.CreatedAt,
	)
}

// PendingOutbox returns unpublished outbox rows in insertion order. The relay
// stamps PublishedAt on the envelope just before handing it to the bus.
func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]store.OutboxEvent, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM outbox_events WHERE published_at IS NULL ORDER BY id ASC LIMIT $1`, outboxColumns),
		limit)
	if err != nil {
		return nil, fmt.Errorf("pending outbox: %w", err)
	}
	defer rows.Close()

	var out []store.OutboxEvent
	for rows.Next() {
		var row store.OutboxEvent
		if err := scanOutbox(rows, &row); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// MarkOutboxPublished stamps the given rows as published.
func (s *Store) MarkOutboxPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// ListOutboxByCorrelation returns outbox rows in the tenant sharing a
// correlation id, oldest first, for audit export.
func (s *Store) ListOutboxByCorrelation(ctx context.Context, tenantID, correlationID string) ([]store.OutboxEvent, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM outbox_events
		 WHERE tenant_id = $1 AND correlation_id = $2 ORDER BY id ASC`, outboxColumns),
		tenantID, correlationID)
	if err != nil {
		return nil, fmt.Errorf("list outbox by correlation: %w", err)
	}
	defer rows.Close()

	var out []store.OutboxEvent
	for rows.Next() {
		var row store.OutboxEvent
		if err := scanOutbox(rows, &row); err != nil {
			return nil, fmt.Errorf("scan correlated outbox row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
