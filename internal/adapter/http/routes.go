package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/greenlight-hq/greenlight/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router. Everything
// under /api/v1 is tenant-scoped; /health is not, so probes need no headers.
// DLQ replay and policy writes are operator actions gated behind the
// operator key.
func MountRoutes(r chi.Router, h *Handlers, operatorKeyHash string) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.TenantID)
		r.Use(middleware.Correlation)

		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Ingress
		r.Post("/actions", h.ProposeAction)

		// Approvals
		r.Get("/approvals", h.ListItems)
		r.Get("/approvals/{id}", h.GetItem)
		r.Post("/approvals/{id}/approve", h.ApproveItem)
		r.Post("/approvals/{id}/reject", h.RejectItem)
		r.Post("/approvals/{id}/archive", h.ArchiveItem)

		// Audit export
		r.Get("/audit", h.Audit)

		// Routing policies
		r.Get("/policies/{module}", h.GetPolicy)
		r.With(middleware.Operator(operatorKeyHash)).Put("/policies/{module}", h.PutPolicy)

		// Dead letters
		r.Get("/dlq", h.ListDeadLetters)
		r.Get("/dlq/{eventId}", h.GetDeadLetter)
		r.With(middleware.Operator(operatorKeyHash)).Post("/dlq/{eventId}/replay", h.ReplayDeadLetter)
	})
}
