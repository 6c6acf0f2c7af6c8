package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/greenlight-hq/greenlight/internal/domain"
	"github.com/greenlight-hq/greenlight/internal/domain/event"
)

const deadLetterColumns = `event_id, event_type, tenant_id, correlation_id, payload, last_error, attempts, first_failed_at, moved_at, replayed_at`

func scanDeadLetter(scanner interface{ Scan(dest ...any) error }, rec *event.DeadLetter) error {
	return scanner.Scan(
		&rec.EventID, &rec.Type, &rec.TenantID, &rec.CorrelationID, &rec.Payload,
		&rec.LastError, &rec.Attempts, &rec.FirstFailedAt, &rec.MovedAt, &rec.ReplayedAt,
	)
}

// CreateDeadLetter records a dead-lettered event. Upserts on event id: a
// redelivered dead-letter call updates attempts and the last error but keeps
// the original first_failed_at.
func (s *Store) CreateDeadLetter(ctx context.Context, rec *event.DeadLetter) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letters
		   (event_id, event_type, tenant_id, correlation_id, payload, last_error, attempts, first_failed_at, moved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (event_id) DO UPDATE
		 SET last_error = EXCLUDED.last_error,
		     attempts   = EXCLUDED.attempts,
		     moved_at   = EXCLUDED.moved_at`,
		rec.EventID, rec.Type, rec.TenantID, rec.CorrelationID, rec.Payload,
		rec.LastError, rec.Attempts, rec.FirstFailedAt, rec.MovedAt)
	if err != nil {
		return fmt.Errorf("create dead letter %s: %w", rec.EventID, err)
	}
	return nil
}

// GetDeadLetter returns the dead-letter record scoped to the tenant.
func (s *Store) GetDeadLetter(ctx context.Context, tenantID, eventID string) (*event.DeadLetter, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM dead_letters WHERE event_id = $1 AND tenant_id = $2`, deadLetterColumns),
		eventID, tenantID)

	var rec event.DeadLetter
	if err := scanDeadLetter(row, &rec); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("dead letter %s: %w", eventID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get dead letter %s: %w", eventID, err)
	}
	return &rec, nil
}

// ListDeadLetters returns a page of dead letters for the tenant, newest first.
func (s *Store) ListDeadLetters(ctx context.Context, tenantID string, limit, offset int) ([]event.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM dead_letters WHERE tenant_id = $1 ORDER BY moved_at DESC LIMIT $2 OFFSET $3`, deadLetterColumns),
		tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var recs []event.DeadLetter
	for rows.Next() {
		var rec event.DeadLetter
		if err := scanDeadLetter(rows, &rec); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// MarkDeadLetterReplayed stamps the record after an operator replay.
func (s *Store) MarkDeadLetterReplayed(ctx context.Context, tenantID, eventID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letters SET replayed_at = now() WHERE event_id = $1 AND tenant_id = $2`,
		eventID, tenantID)
	if err != nil {
		return fmt.Errorf("mark dead letter replayed %s: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dead letter %s: %w", eventID, domain.ErrNotFound)
	}
	return nil
}
