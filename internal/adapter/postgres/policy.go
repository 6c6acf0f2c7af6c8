package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/greenlight-hq/greenlight/internal/domain"
	"github.com/greenlight-hq/greenlight/internal/domain/routing"
)

// GetPolicy returns the routing policy for a tenant/module pair.
func (s *Store) GetPolicy(ctx context.Context, tenantID, module string) (*routing.Policy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT auto_threshold, quick_threshold, quick_timeout, full_timeout, updated_at
		 FROM tenant_policies WHERE tenant_id = $1 AND source_module = $2`,
		tenantID, module)

	var p routing.Policy
	var quickNanos, fullNanos int64
	if err := row.Scan(&p.AutoThreshold, &p.QuickThreshold, &quickNanos, &fullNanos, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("policy %s/%s: %w", tenantID, module, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get policy %s/%s: %w", tenantID, module, err)
	}
	p.QuickTimeout = time.Duration(quickNanos)
	p.FullTimeout = time.Duration(fullNanos)
	return &p, nil
}

// PutPolicy upserts the routing policy for a tenant/module pair.
func (s *Store) PutPolicy(ctx context.Context, tenantID, module string, p routing.Policy) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenant_policies
		   (tenant_id, source_module, auto_threshold, quick_threshold, quick_timeout, full_timeout, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (tenant_id, source_module) DO UPDATE
		 SET auto_threshold  = EXCLUDED.auto_threshold,
		     quick_threshold = EXCLUDED.quick_threshold,
		     quick_timeout   = EXCLUDED.quick_timeout,
		     full_timeout    = EXCLUDED.full_timeout,
		     updated_at      = now()`,
		tenantID, module, p.AutoThreshold, p.QuickThreshold,
		int64(p.QuickTimeout), int64(p.FullTimeout))
	if err != nil {
		return fmt.Errorf("put policy %s/%s: %w", tenantID, module, err)
	}
	return nil
}
