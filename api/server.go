/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/policies/{type}/*     Issue, renew, cancel, lineage
  /api/renewals/*            Eligibility queries
  /api/reminders/*           Manual runs, last run, reminder log
  /api/renewal-configs/*     Reminder cadence admin
  /api/scenarios/*           Demo data loaders
  /healthz                   Liveness
  /metrics                   Prometheus scrape endpoint (when provided)

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. metrics may be
// nil.
func NewRouter(h *Handler, metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Policy routes
		r.Route("/policies/{type}", func(r chi.Router) {
			r.Post("/", h.IssuePolicy)
			r.Get("/{id}", h.GetPolicy)
			r.Patch("/{id}/renew", h.RenewPolicy)
			r.Post("/{id}/cancel", h.CancelPolicy)
			r.Get("/{id}/lineage", h.GetLineage)
		})

		r.Get("/renewals/eligible", h.ListEligible)

		// Reminder routes
		r.Route("/reminders", func(r chi.Router) {
			r.Post("/run", h.RunReminders)
			r.Get("/last-run", h.LastRun)
			r.Get("/logs", h.ListReminderLogs)
		})

		// Renewal config routes
		r.Route("/renewal-configs", func(r chi.Router) {
			r.Get("/", h.ListConfigs)
			r.Get("/{type}", h.GetConfig)
			r.Put("/{type}", h.PutConfig)
		})

		// Scenario routes
		r.Get("/scenarios", h.ListScenarios)
		r.Post("/scenarios/load", h.LoadScenario)
	})

	return r
}
