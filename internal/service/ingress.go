package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/greenlight-hq/greenlight/internal/domain/action"
	"github.com/greenlight-hq/greenlight/internal/domain/event"
	"github.com/greenlight-hq/greenlight/internal/port/bus"
)

// IngressService accepts candidate actions over HTTP and publishes them as
// action.proposed events, the same path agent collaborators use directly on
// the bus.
type IngressService struct {
	bus bus.Bus
	log *slog.Logger
}

// NewIngressService creates an IngressService.
func NewIngressService(b bus.Bus, log *slog.Logger) *IngressService {
	if log == nil {
		log = slog.Default()
	}
	return &IngressService{bus: b, log: log}
}

// Propose validates the candidate action and publishes action.proposed. An
// empty correlationID starts a new trace. The returned envelope carries the
// assigned event and correlation ids for the caller to track.
func (s *IngressService) Propose(ctx context.Context, act *action.CandidateAction, correlationID string) (event.Envelope, error) {
	if act.ProposedAt.IsZero() {
		act.ProposedAt = time.Now().UTC()
	}
	if err := act.Validate(); err != nil {
		return event.Envelope{}, err
	}

	env, err := event.New(act.TenantID, event.TypeActionProposed, event.ActionProposedPayload{
		ActionID:     act.ID,
		SourceModule: act.SourceModule,
		EntityType:   act.EntityType,
		EntityID:     act.EntityID,
		Confidence:   act.Confidence,
		Payload:      act.Payload,
		ProposedAt:   act.ProposedAt,
	}, correlationID)
	if err != nil {
		return event.Envelope{}, fmt.Errorf("build action.proposed: %w", err)
	}

	if err := s.bus.Publish(ctx, env); err != nil {
		return event.Envelope{}, fmt.Errorf("publish action.proposed: %w", err)
	}

	s.log.Info("action proposed",
		"action_id", act.ID,
		"tenant_id", act.TenantID,
		"source_module", act.SourceModule,
		"event_id", env.EventID,
		"correlation_id", env.CorrelationID)
	return env, nil
}
