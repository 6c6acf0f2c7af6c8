// Package ristretto implements the policy cache using dgraph-io/ristretto as
// an in-process L1 cache in front of the policy store.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/greenlight-hq/greenlight/internal/domain/routing"
)

// policyCost approximates the in-memory size of one cached policy entry,
// key included.
const policyCost = 128

// PolicyCache caches resolved routing policies per tenant/module pair.
type PolicyCache struct {
	c   *ristretto.Cache[string, routing.Policy]
	ttl time.Duration
}

// NewPolicyCache creates a ristretto-backed policy cache. maxCostBytes is the
// maximum total size of cached entries in bytes; ttl bounds staleness after a
// policy update lands on another instance.
func NewPolicyCache(maxCostBytes int64, ttl time.Duration) (*PolicyCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, routing.Policy]{
		NumCounters: maxCostBytes / policyCost * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &PolicyCache{c: c, ttl: ttl}, nil
}

func key(tenantID, module string) string {
	return tenantID + "/" + module
}

// Get retrieves a cached policy.
func (p *PolicyCache) Get(_ context.Context, tenantID, module string) (routing.Policy, bool) {
	return p.c.Get(key(tenantID, module))
}

// Set stores a policy with the configured TTL.
func (p *PolicyCache) Set(_ context.Context, tenantID, module string, pol routing.Policy) {
	p.c.SetWithTTL(key(tenantID, module), pol, policyCost, p.ttl)
}

// Delete evicts a policy, used on updates so the next resolve hits the store.
func (p *PolicyCache) Delete(_ context.Context, tenantID, module string) {
	p.c.Del(key(tenantID, module))
	// Deletes race with buffered sets; wait so the eviction is visible to the
	// next Get on this instance.
	p.c.Wait()
}

// Close shuts down the cache and releases resources.
func (p *PolicyCache) Close() {
	p.c.Close()
}
