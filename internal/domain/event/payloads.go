package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionProposedPayload is the schema for action.proposed events.
type ActionProposedPayload struct {
	ActionID     string          `json:"actionId"`
	SourceModule string          `json:"sourceModule"`
	EntityType   string          `json:"entityType"`
	EntityID     string          `json:"entityId"`
	Confidence   *float64        `json:"confidence,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ProposedAt   time.Time       `json:"proposedAt"`
}

// ActionApprovedPayload is the schema for action.approved events, the
// execution trigger consumed by the owning module.
type ActionApprovedPayload struct {
	ActionID     string          `json:"actionId"`
	ApprovalID   string          `json:"approvalId"`
	Tier         string          `json:"tier"`
	DecidedBy    string          `json:"decidedBy"`
	SourceModule string          `json:"sourceModule"`
	EntityType   string          `json:"entityType"`
	EntityID     string          `json:"entityId"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// ApprovalRequestedPayload is the schema for approval.requested events,
// consumed by notification and review-UI collaborators.
type ApprovalRequestedPayload struct {
	ApprovalID   string     `json:"approvalId"`
	ActionID     string     `json:"actionId"`
	Tier         string     `json:"tier"`
	SourceModule string     `json:"sourceModule"`
	EntityType   string     `json:"entityType"`
	EntityID     string     `json:"entityId"`
	Confidence   float64    `json:"confidence"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// ApprovalDecidedPayload is the schema for approval.granted,
// approval.rejected, and approval.expired events.
type ApprovalDecidedPayload struct {
	ApprovalID string    `json:"approvalId"`
	ActionID   string    `json:"actionId"`
	Outcome    string    `json:"outcome"`
	DecidedBy  string    `json:"decidedBy"`
	Reason     string    `json:"reason,omitempty"`
	DecidedAt  time.Time `json:"decidedAt"`
}

// ValidatePayload checks that data is valid JSON conforming to the schema for
// the given event type. A failure here is structural: the event will never
// succeed on retry and should be dead-lettered immediately. Unknown types
// pass validation so new event kinds can roll out incrementally.
func ValidatePayload(typ Type, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON payload for %s", typ)
	}

	var target any
	switch typ {
	case TypeActionProposed:
		target = &ActionProposedPayload{}
	case TypeActionApproved:
		target = &ActionApprovedPayload{}
	case TypeApprovalRequested:
		target = &ApprovalRequestedPayload{}
	case TypeApprovalGranted, TypeApprovalRejected, TypeApprovalExpired:
		target = &ApprovalDecidedPayload{}
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", typ, err)
	}
	return nil
}
