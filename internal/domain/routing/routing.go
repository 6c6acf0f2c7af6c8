// Package routing implements the confidence router: a pure, deterministic
// mapping from a confidence score and a tenant policy to an approval tier.
// It never touches storage or the bus.
package routing

import (
	"fmt"
	"time"

	"github.com/greenlight-hq/greenlight/internal/domain"
	"github.com/greenlight-hq/greenlight/internal/domain/approval"
)

// Policy is the per-tenant, per-module routing configuration. It is an
// immutable value fetched per classification call, never a shared mutable
// singleton.
type Policy struct {
	AutoThreshold  float64       `json:"autoThreshold"`
	QuickThreshold float64       `json:"quickThreshold"`
	QuickTimeout   time.Duration `json:"quickTimeout"`
	FullTimeout    time.Duration `json:"fullTimeout"`
	UpdatedAt      time.Time     `json:"updatedAt,omitempty"`
}

// Default threshold and timeout values applied when a tenant policy leaves a
// field unset.
const (
	DefaultAutoThreshold  = 0.85
	DefaultQuickThreshold = 0.60
	DefaultQuickTimeout   = 24 * time.Hour
	DefaultFullTimeout    = 72 * time.Hour
)

// DefaultPolicy returns the baseline values offered to tenants configuring a
// policy for the first time. Routing itself never falls back to these
// thresholds: a missing policy fails safe to full review.
func DefaultPolicy() Policy {
	return Policy{
		AutoThreshold:  DefaultAutoThreshold,
		QuickThreshold: DefaultQuickThreshold,
		QuickTimeout:   DefaultQuickTimeout,
		FullTimeout:    DefaultFullTimeout,
	}
}

// Validate checks threshold ordering and ranges.
func (p Policy) Validate() error {
	if p.AutoThreshold < 0 || p.AutoThreshold > 1 {
		return fmt.Errorf("%w: autoThreshold %v outside [0,1]", domain.ErrValidation, p.AutoThreshold)
	}
	if p.QuickThreshold < 0 || p.QuickThreshold > 1 {
		return fmt.Errorf("%w: quickThreshold %v outside [0,1]", domain.ErrValidation, p.QuickThreshold)
	}
	if p.QuickThreshold > p.AutoThreshold {
		return fmt.Errorf("%w: quickThreshold %v exceeds autoThreshold %v", domain.ErrValidation, p.QuickThreshold, p.AutoThreshold)
	}
	if p.QuickTimeout <= 0 || p.FullTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", domain.ErrValidation)
	}
	return nil
}

// TimeoutFor returns the approval window for a tier. AUTO items have no
// window; callers should treat a zero duration as "no expiry".
func (p Policy) TimeoutFor(tier approval.Tier) time.Duration {
	switch tier {
	case approval.TierQuick:
		return p.QuickTimeout
	case approval.TierFull:
		return p.FullTimeout
	default:
		return 0
	}
}

// Classify maps a confidence score onto a tier. Scores at a threshold fall
// into the tier above it (confidence >= autoThreshold routes to AUTO), per
// the configured policy.
func Classify(confidence float64, p Policy) approval.Tier {
	switch {
	case confidence >= p.AutoThreshold:
		return approval.TierAuto
	case confidence >= p.QuickThreshold:
		return approval.TierQuick
	default:
		return approval.TierFull
	}
}
