/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the member transparency UI

SECURITY NOTE:
  No authentication middleware. Tenant/session handling lives in the
  surrounding operations backend; this subsystem trusts its caller.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/tenants/{tenant}/routes/{route}", func(r chi.Router) {
			r.Post("/pool", h.InitializePool)
			r.Get("/pool", h.GetPool)

			r.Post("/subsidy/preview", h.PreviewSubsidy)
			r.Post("/subsidy/apply", h.ApplySubsidy)

			r.Post("/surplus/allocate", h.AllocateSurplus)

			r.Get("/statistics", h.GetStatistics)
			r.Get("/transactions", h.ListTransactions)

			r.Post("/costs", h.SubmitCost)
			r.Get("/costs", h.ListCosts)
		})

		r.Post("/settlement/run", h.RunSettlement)

		// Dev only; 404s unless the store supports Reset.
		r.Post("/reset", h.ResetDatabase)
	})

	return r
}
