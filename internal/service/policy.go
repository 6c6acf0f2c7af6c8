// Package service implements the application services that connect the
// domain to the bus, the store, and the HTTP surface.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/greenlight-hq/greenlight/internal/adapter/ristretto"
	"github.com/greenlight-hq/greenlight/internal/domain"
	"github.com/greenlight-hq/greenlight/internal/domain/routing"
	"github.com/greenlight-hq/greenlight/internal/port/store"
)

// PolicyService resolves and manages per-tenant routing policies with an
// in-process cache in front of the store.
type PolicyService struct {
	store store.Store
	cache *ristretto.PolicyCache
	log   *slog.Logger
}

// NewPolicyService creates a PolicyService. cache may be nil to disable
// caching.
func NewPolicyService(st store.Store, cache *ristretto.PolicyCache, log *slog.Logger) *PolicyService {
	if log == nil {
		log = slog.Default()
	}
	return &PolicyService{store: st, cache: cache, log: log}
}

// Resolve returns the routing policy for a tenant/module pair. found is false
// when no policy row exists; the caller fails safe to full review rather than
// applying someone else's thresholds.
func (s *PolicyService) Resolve(ctx context.Context, tenantID, module string) (routing.Policy, bool, error) {
	if s.cache != nil {
		if p, ok := s.cache.Get(ctx, tenantID, module); ok {
			return p, true, nil
		}
	}

	p, err := s.store.GetPolicy(ctx, tenantID, module)
	if errors.Is(err, domain.ErrNotFound) {
		return routing.Policy{}, false, nil
	}
	if err != nil {
		return routing.Policy{}, false, fmt.Errorf("resolve policy: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, tenantID, module, *p)
	}
	return *p, true, nil
}

// Get returns the stored policy for a tenant/module pair, or the defaults
// when none is configured. exists distinguishes the two for API consumers.
func (s *PolicyService) Get(ctx context.Context, tenantID, module string) (routing.Policy, bool, error) {
	p, found, err := s.Resolve(ctx, tenantID, module)
	if err != nil {
		return routing.Policy{}, false, err
	}
	if !found {
		return routing.DefaultPolicy(), false, nil
	}
	return p, true, nil
}

// Put validates and upserts a tenant/module policy, then evicts the cached
// entry so the next resolve sees the new thresholds.
func (s *PolicyService) Put(ctx context.Context, tenantID, module string, p routing.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.store.PutPolicy(ctx, tenantID, module, p); err != nil {
		return fmt.Errorf("put policy: %w", err)
	}
	if s.cache != nil {
		s.cache.Delete(ctx, tenantID, module)
	}
	s.log.Info("routing policy updated",
		"tenant_id", tenantID,
		"source_module", module,
		"auto_threshold", p.AutoThreshold,
		"quick_threshold", p.QuickThreshold)
	return nil
}
