// Package event defines the bus envelope, the event type namespace, and the
// wire payload schemas exchanged between the router core and its
// collaborators.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event, dot-namespaced.
type Type string

const (
	TypeActionProposed    Type = "action.proposed"
	TypeActionApproved    Type = "action.approved"
	TypeApprovalRequested Type = "approval.requested"
	TypeApprovalGranted   Type = "approval.granted"
	TypeApprovalRejected  Type = "approval.rejected"
	TypeApprovalExpired   Type = "approval.expired"
)

// Envelope is the transport unit for every event on the bus.
//
// EventID is globally unique and stable across redelivery: the same logical
// event retains its EventID on retry so consumers can dedupe. CorrelationID
// is assigned once at ingress and propagated, never recomputed, through every
// derived event.
type Envelope struct {
	EventID       string          `json:"eventId"`
	Type          Type            `json:"type"`
	TenantID      string          `json:"tenantId"`
	CorrelationID string          `json:"correlationId"`
	Attempt       int             `json:"attempt"`
	PublishedAt   time.Time       `json:"publishedAt"`
	Payload       json.RawMessage `json:"payload"`
}

// New builds an envelope for a fresh logical workflow. An empty correlationID
// starts a new trace; this is the only place a correlation id is minted.
func New(tenantID string, typ Type, payload any, correlationID string) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return Envelope{
		EventID:       uuid.NewString(),
		Type:          typ,
		TenantID:      tenantID,
		CorrelationID: correlationID,
		Attempt:       0,
		PublishedAt:   time.Now().UTC(),
		Payload:       data,
	}, nil
}

// Derive builds a follow-up envelope carrying the same tenant and correlation
// id as e, with a fresh event id and attempt counter.
func (e Envelope) Derive(typ Type, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		Type:          typ,
		TenantID:      e.TenantID,
		CorrelationID: e.CorrelationID,
		Attempt:       0,
		PublishedAt:   time.Now().UTC(),
		Payload:       data,
	}, nil
}

// DeadLetter is the terminal failure record for an event that exhausted its
// retry budget or failed structurally. Dead-lettered events never auto-replay.
type DeadLetter struct {
	EventID       string          `json:"eventId"`
	Type          Type            `json:"type"`
	TenantID      string          `json:"tenantId"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload"`
	LastError     string          `json:"lastError"`
	Attempts      int             `json:"attempts"`
	FirstFailedAt time.Time       `json:"firstFailedAt"`
	MovedAt       time.Time       `json:"movedAt"`
	ReplayedAt    *time.Time      `json:"replayedAt,omitempty"`
}
