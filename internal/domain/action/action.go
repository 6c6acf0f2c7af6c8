// Package action defines the CandidateAction domain entity: an agent-proposed
// mutation awaiting classification before execution.
package action

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/greenlight-hq/greenlight/internal/domain"
)

// Module identifies the owning business module of a candidate action.
type Module string

const (
	ModuleContent  Module = "content"
	ModuleOutreach Module = "outreach"
	ModuleCRM      Module = "crm"
	ModuleDeals    Module = "deals"

	// ModuleUnknown is the escape hatch for modules this service does not
	// recognize yet. Unknown modules are routed, not dropped, and logged
	// for monitoring.
	ModuleUnknown Module = "unknown"
)

// ParseModule maps a wire string onto a known Module, falling back to
// ModuleUnknown.
func ParseModule(s string) Module {
	switch Module(s) {
	case ModuleContent, ModuleOutreach, ModuleCRM, ModuleDeals:
		return Module(s)
	default:
		return ModuleUnknown
	}
}

// CandidateAction is an agent-proposed action awaiting classification.
// Confidence is a pointer so that a missing score is distinguishable from an
// explicit 0.0; missing scores are forced to the lowest tier downstream.
type CandidateAction struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenantId"`
	SourceModule string          `json:"sourceModule"`
	EntityType   string          `json:"entityType"`
	EntityID     string          `json:"entityId"`
	Confidence   *float64        `json:"confidence,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ProposedAt   time.Time       `json:"proposedAt"`
}

// Validate checks the structural invariants of a candidate action. A missing
// confidence is valid (it forces full review); an out-of-range confidence is
// not.
func (a *CandidateAction) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: action id is required", domain.ErrValidation)
	}
	if a.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", domain.ErrValidation)
	}
	if a.SourceModule == "" {
		return fmt.Errorf("%w: source module is required", domain.ErrValidation)
	}
	if a.EntityType == "" {
		return fmt.Errorf("%w: entity type is required", domain.ErrValidation)
	}
	if a.EntityID == "" {
		return fmt.Errorf("%w: entity id is required", domain.ErrValidation)
	}
	if a.Confidence != nil && (*a.Confidence < 0 || *a.Confidence > 1) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", domain.ErrValidation, *a.Confidence)
	}
	return nil
}

// EffectiveConfidence returns the confidence used for routing. Missing scores
// collapse to 0 so that agents with buggy scoring still get reviewed rather
// than silently executed.
func (a *CandidateAction) EffectiveConfidence() float64 {
	if a.Confidence == nil {
		return 0
	}
	return *a.Confidence
}
