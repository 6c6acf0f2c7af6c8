package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/greenlight-hq/greenlight/internal/domain/action"
	"github.com/greenlight-hq/greenlight/internal/domain/approval"
	"github.com/greenlight-hq/greenlight/internal/domain/routing"
	"github.com/greenlight-hq/greenlight/internal/middleware"
	"github.com/greenlight-hq/greenlight/internal/port/bus"
	"github.com/greenlight-hq/greenlight/internal/port/store"
	"github.com/greenlight-hq/greenlight/internal/service"
)

// Handlers bundles the services the HTTP surface fronts.
type Handlers struct {
	ingress   *service.IngressService
	approvals *service.ApprovalService
	policies  *service.PolicyService
	dlq       *service.DLQService
	bus       bus.Bus
	log       *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(ingress *service.IngressService, approvals *service.ApprovalService, policies *service.PolicyService, dlq *service.DLQService, b bus.Bus, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{ingress: ingress, approvals: approvals, policies: policies, dlq: dlq, bus: b, log: log}
}

// ---------------------------------------------------------------------------
// Ingress
// ---------------------------------------------------------------------------

type proposeActionRequest struct {
	ID           string          `json:"id"`
	SourceModule string          `json:"sourceModule"`
	EntityType   string          `json:"entityType"`
	EntityID     string          `json:"entityId"`
	Confidence   *float64        `json:"confidence,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

type proposeActionResponse struct {
	EventID       string `json:"eventId"`
	CorrelationID string `json:"correlationId"`
	ActionID      string `json:"actionId"`
}

// ProposeAction accepts a candidate action over HTTP and publishes it as
// action.proposed. Routing happens asynchronously in the dispatcher, so the
// response is 202 with the ids to track it by.
func (h *Handlers) ProposeAction(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[proposeActionRequest](w, r)
	if !ok {
		return
	}

	act := &action.CandidateAction{
		ID:           req.ID,
		TenantID:     middleware.TenantIDFromContext(r.Context()),
		SourceModule: req.SourceModule,
		EntityType:   req.EntityType,
		EntityID:     req.EntityID,
		Confidence:   req.Confidence,
		Payload:      req.Payload,
		ProposedAt:   time.Now().UTC(),
	}

	env, err := h.ingress.Propose(r.Context(), act, middleware.CorrelationIDFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err, "action not accepted")
		return
	}

	writeJSON(w, http.StatusAccepted, proposeActionResponse{
		EventID:       env.EventID,
		CorrelationID: env.CorrelationID,
		ActionID:      act.ID,
	})
}

// ---------------------------------------------------------------------------
// Approvals
// ---------------------------------------------------------------------------

type decisionRequest struct {
	DecidedBy string `json:"decidedBy"`
	Reason    string `json:"reason,omitempty"`
}

// ApproveItem transitions a pending item to APPROVED.
func (h *Handlers) ApproveItem(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[decisionRequest](w, r)
	if !ok {
		return
	}
	item, err := h.approvals.Approve(r.Context(), middleware.TenantIDFromContext(r.Context()), urlParam(r, "id"), req.DecidedBy, req.Reason)
	h.writeDecision(w, item, err)
}

// RejectItem transitions a pending item to REJECTED. Reason is required.
func (h *Handlers) RejectItem(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[decisionRequest](w, r)
	if !ok {
		return
	}
	item, err := h.approvals.Reject(r.Context(), middleware.TenantIDFromContext(r.Context()), urlParam(r, "id"), req.DecidedBy, req.Reason)
	h.writeDecision(w, item, err)
}

// ArchiveItem stamps a decided item as archived, removing it from listings
// while keeping the row for audit.
func (h *Handlers) ArchiveItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.approvals.Archive(r.Context(), middleware.TenantIDFromContext(r.Context()), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "approval item not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// writeDecision renders a decision result. A lost race gets a 409 carrying
// the winning decision so clients can refresh without a second round trip.
func (h *Handlers) writeDecision(w http.ResponseWriter, item *approval.Item, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, item)
		return
	}
	if item != nil && item.State.Terminal() {
		resp := conflictResponse{Error: "item already decided", State: string(item.State), DecidedBy: item.DecidedBy}
		if item.DecidedAt != nil {
			resp.DecidedAt = item.DecidedAt.UTC().Format(time.RFC3339)
		}
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	writeDomainError(w, err, "approval item not found")
}

// GetItem returns one approval item.
func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.approvals.Get(r.Context(), middleware.TenantIDFromContext(r.Context()), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "approval item not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type listItemsResponse struct {
	Items []approval.Item `json:"items"`
}

// ListItems returns a page of approval items filtered by state and tier.
func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ItemFilter{
		State:  approval.State(q.Get("state")),
		Tier:   approval.Tier(q.Get("tier")),
		Limit:  intQuery(q.Get("limit"), 50),
		Offset: intQuery(q.Get("offset"), 0),
	}
	items, err := h.approvals.List(r.Context(), middleware.TenantIDFromContext(r.Context()), f)
	if err != nil {
		writeDomainError(w, err, "list failed")
		return
	}
	if items == nil {
		items = []approval.Item{}
	}
	writeJSON(w, http.StatusOK, listItemsResponse{Items: items})
}

// Audit exports the full trail for a correlation id.
func (h *Handlers) Audit(w http.ResponseWriter, r *http.Request) {
	trail, err := h.approvals.Audit(r.Context(), middleware.TenantIDFromContext(r.Context()), r.URL.Query().Get("correlationId"))
	if err != nil {
		writeDomainError(w, err, "audit trail not found")
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

// ---------------------------------------------------------------------------
// Policies
// ---------------------------------------------------------------------------

type policyResponse struct {
	SourceModule   string  `json:"sourceModule"`
	AutoThreshold  float64 `json:"autoThreshold"`
	QuickThreshold float64 `json:"quickThreshold"`
	QuickTimeout   string  `json:"quickTimeout"`
	FullTimeout    string  `json:"fullTimeout"`
	Configured     bool    `json:"configured"`
}

type putPolicyRequest struct {
	AutoThreshold  float64 `json:"autoThreshold"`
	QuickThreshold float64 `json:"quickThreshold"`
	QuickTimeout   string  `json:"quickTimeout,omitempty"`
	FullTimeout    string  `json:"fullTimeout,omitempty"`
}

// GetPolicy returns the routing policy for a source module, falling back to
// the defaults when none is configured.
func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	module := urlParam(r, "module")
	p, configured, err := h.policies.Get(r.Context(), middleware.TenantIDFromContext(r.Context()), module)
	if err != nil {
		writeDomainError(w, err, "policy not found")
		return
	}
	writeJSON(w, http.StatusOK, policyResponse{
		SourceModule:   module,
		AutoThreshold:  p.AutoThreshold,
		QuickThreshold: p.QuickThreshold,
		QuickTimeout:   p.QuickTimeout.String(),
		FullTimeout:    p.FullTimeout.String(),
		Configured:     configured,
	})
}

// PutPolicy upserts the routing policy for a source module. Timeouts are Go
// duration strings ("24h", "30m"); empty values keep the defaults.
func (h *Handlers) PutPolicy(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[putPolicyRequest](w, r)
	if !ok {
		return
	}

	p := routing.Policy{
		AutoThreshold:  req.AutoThreshold,
		QuickThreshold: req.QuickThreshold,
		QuickTimeout:   routing.DefaultQuickTimeout,
		FullTimeout:    routing.DefaultFullTimeout,
	}
	var err error
	if req.QuickTimeout != "" {
		if p.QuickTimeout, err = time.ParseDuration(req.QuickTimeout); err != nil {
			writeError(w, http.StatusBadRequest, "invalid quickTimeout duration")
			return
		}
	}
	if req.FullTimeout != "" {
		if p.FullTimeout, err = time.ParseDuration(req.FullTimeout); err != nil {
			writeError(w, http.StatusBadRequest, "invalid fullTimeout duration")
			return
		}
	}

	module := urlParam(r, "module")
	if err := h.policies.Put(r.Context(), middleware.TenantIDFromContext(r.Context()), module, p); err != nil {
		writeDomainError(w, err, "policy update failed")
		return
	}
	writeJSON(w, http.StatusOK, policyResponse{
		SourceModule:   module,
		AutoThreshold:  p.AutoThreshold,
		QuickThreshold: p.QuickThreshold,
		QuickTimeout:   p.QuickTimeout.String(),
		FullTimeout:    p.FullTimeout.String(),
		Configured:     true,
	})
}

// ---------------------------------------------------------------------------
// Dead letters
// ---------------------------------------------------------------------------

// ListDeadLetters returns a page of dead-lettered events.
func (h *Handlers) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recs, err := h.dlq.List(r.Context(), middleware.TenantIDFromContext(r.Context()),
		intQuery(q.Get("limit"), 50), intQuery(q.Get("offset"), 0))
	if err != nil {
		writeDomainError(w, err, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deadLetters": recs})
}

// GetDeadLetter returns one dead-letter record.
func (h *Handlers) GetDeadLetter(w http.ResponseWriter, r *http.Request) {
	rec, err := h.dlq.Get(r.Context(), middleware.TenantIDFromContext(r.Context()), urlParam(r, "eventId"))
	if err != nil {
		writeDomainError(w, err, "dead letter not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ReplayDeadLetter re-publishes a dead-lettered event with a reset attempt
// counter. Operator-gated in the route table.
func (h *Handlers) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	rec, err := h.dlq.Replay(r.Context(), middleware.TenantIDFromContext(r.Context()), urlParam(r, "eventId"))
	if err != nil {
		writeDomainError(w, err, "dead letter not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// Health reports process liveness and bus connectivity.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status, label := http.StatusOK, "ok"
	busOK := h.bus != nil && h.bus.IsConnected()
	if !busOK {
		status, label = http.StatusServiceUnavailable, "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status": label,
		"bus":    busOK,
	})
}

func intQuery(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
