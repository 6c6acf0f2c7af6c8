// Package approval defines the ApprovalItem lifecycle: tiers, states, the
// transition table, and decision outcomes.
package approval

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tier determines how much human scrutiny an action receives.
type Tier string

const (
	TierAuto  Tier = "AUTO"
	TierQuick Tier = "QUICK"
	TierFull  Tier = "FULL"
)

// State is the lifecycle state of an approval item.
type State string

const (
	StatePendingAuto  State = "PENDING_AUTO"
	StatePendingQuick State = "PENDING_QUICK"
	StatePendingFull  State = "PENDING_FULL"
	StateApproved     State = "APPROVED"
	StateRejected     State = "REJECTED"
	StateAutoApproved State = "AUTO_APPROVED"
	StateExpired      State = "EXPIRED"
)

// PendingStates are the states a human or timeout decision may transition
// from. PENDING_AUTO is excluded: only the dispatcher resolves it.
var PendingStates = []State{StatePendingQuick, StatePendingFull}

// Terminal reports whether the state is final. Terminal states admit no
// further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateApproved, StateRejected, StateAutoApproved, StateExpired:
		return true
	default:
		return false
	}
}

// Pending reports whether the state is awaiting a decision.
func (s State) Pending() bool {
	switch s {
	case StatePendingAuto, StatePendingQuick, StatePendingFull:
		return true
	default:
		return false
	}
}

// StateForTier returns the initial state for a freshly classified item.
func StateForTier(t Tier) State {
	switch t {
	case TierAuto:
		return StatePendingAuto
	case TierQuick:
		return StatePendingQuick
	default:
		return StatePendingFull
	}
}

// transitions is the full state machine. Absent keys are terminal states.
var transitions = map[State][]State{
	StatePendingAuto:  {StateAutoApproved},
	StatePendingQuick: {StateApproved, StateRejected, StateExpired},
	StatePendingFull:  {StateApproved, StateRejected, StateExpired},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Outcome is the sum type of terminal decision outcomes. Every consumer is
// expected to switch exhaustively so that a new outcome is a compile-visible
// change.
type Outcome string

const (
	OutcomeApproved     Outcome = "approved"
	OutcomeRejected     Outcome = "rejected"
	OutcomeExpired      Outcome = "expired"
	OutcomeAutoApproved Outcome = "auto_approved"
)

// State returns the terminal state an outcome lands in.
func (o Outcome) State() (State, error) {
	switch o {
	case OutcomeApproved:
		return StateApproved, nil
	case OutcomeRejected:
		return StateRejected, nil
	case OutcomeExpired:
		return StateExpired, nil
	case OutcomeAutoApproved:
		return StateAutoApproved, nil
	default:
		return "", fmt.Errorf("unknown outcome %q", string(o))
	}
}

// Decision carries the who/why/when of a terminal transition.
type Decision struct {
	Outcome Outcome   `json:"outcome"`
	By      string    `json:"decidedBy"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"decidedAt"`
}

// SystemActor is the DecidedBy value for transitions not driven by a human
// (auto-approval and expiry).
const SystemActor = "system"

// Item is the persistent record tracking the lifecycle of one candidate
// action. Items are never physically deleted; superseded items are archived
// to preserve the audit trail.
type Item struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenantId"`
	SourceModule  string          `json:"sourceModule"`
	EntityType    string          `json:"entityType"`
	EntityID      string          `json:"entityId"`
	Confidence    float64         `json:"confidence"`
	Tier          Tier            `json:"tier"`
	State         State           `json:"state"`
	DecidedBy     string          `json:"decidedBy,omitempty"`
	DecidedAt     *time.Time      `json:"decidedAt,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ExpiresAt     *time.Time      `json:"expiresAt,omitempty"`
	ArchivedAt    *time.Time      `json:"archivedAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}
