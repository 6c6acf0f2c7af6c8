package ws

import (
	"context"
	"encoding/json"
)

// Event type constants for WebSocket messages.
const (
	EventApprovalCreated = "approval.created"
	EventApprovalDecided = "approval.decided"
	EventDeadLettered    = "event.dead_lettered"
)

// ApprovalCreatedEvent is broadcast when a candidate action lands in a
// reviewer queue.
type ApprovalCreatedEvent struct {
	ApprovalID    string  `json:"approvalId"`
	SourceModule  string  `json:"sourceModule"`
	EntityType    string  `json:"entityType"`
	EntityID      string  `json:"entityId"`
	Tier          string  `json:"tier"`
	Confidence    float64 `json:"confidence"`
	CorrelationID string  `json:"correlationId"`
}

// ApprovalDecidedEvent is broadcast when an approval item reaches a terminal
// state, whether by reviewer, auto-approval, or expiry.
type ApprovalDecidedEvent struct {
	ApprovalID    string `json:"approvalId"`
	State         string `json:"state"`
	DecidedBy     string `json:"decidedBy"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlationId"`
}

// DeadLetteredEvent is broadcast when an event exhausts delivery attempts.
type DeadLetteredEvent struct {
	EventID       string `json:"eventId"`
	EventType     string `json:"eventType"`
	LastError     string `json:"lastError"`
	Attempts      int    `json:"attempts"`
	CorrelationID string `json:"correlationId"`
}

// BroadcastEvent marshals a typed event and broadcasts it to the tenant's
// connections.
func (h *Hub) BroadcastEvent(ctx context.Context, tenantID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.BroadcastToTenant(ctx, tenantID, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
