/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend
  5. RequireCaller (under /api): X-User-ID must be present
  6. RequireOperator (under /api/sweep): caller must be a configured operator

ROUTE GROUPS:
  /health               Liveness
  /api/contracts/*      Contracts, schedules, payments per rental, end requests
  /api/payments/*       Per-payment transitions
  /api/notifications    Caller's inbox
  /api/sweep/*          Sweep history and manual trigger (operators only)

SECURITY NOTE:
  Authentication happens upstream; this service trusts X-User-ID.
  Authorization (tenant vs. landlord) is enforced by the rental service.

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

// RouterOptions configures cross-cutting router behaviour.
type RouterOptions struct {
	AllowedOrigins []string
	// AccessLog enables chi's request logger.
	AccessLog bool
	// Operators may read sweep history and trigger a sweep. Empty means
	// nobody can over HTTP; use the sweep command instead.
	Operators []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	if opts.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
			AllowCredentials: true,
		}))
	}

	r.Get("/health", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireCaller)

		// Contract routes
		r.Route("/contracts", func(r chi.Router) {
			r.Post("/", h.CreateContract)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetContract)
				r.Post("/activate", h.ActivateContract)
				r.Put("/setup", h.SetupContract)
				r.Post("/extend", h.ExtendContract)

				r.Get("/payments", h.ListPayments)
				r.Post("/payments", h.CreatePayment)

				r.Get("/end-requests", h.ListEndRequests)
				r.Post("/end-requests", h.RequestEnd)
				r.Post("/end-requests/accept", h.AcceptEnd)
				r.Post("/end-requests/cancel", h.CancelEnd)
			})
		})

		// Payment routes
		r.Route("/payments/{id}", func(r chi.Router) {
			r.Post("/proof", h.SubmitProof)
			r.Post("/verify", h.VerifyPayment)
			r.Post("/mark-paid", h.MarkPaid)
			r.Post("/not-received", h.MarkNotReceived)
			r.Post("/cancel", h.CancelPayment)
			r.Delete("/", h.DeletePayment)
		})

		r.Get("/notifications", h.ListNotifications)

		// Sweep routes
		r.Route("/sweep", func(r chi.Router) {
			r.Use(RequireOperator(opts.Operators))
			r.Get("/runs", h.ListSweepRuns)
			r.Post("/run", h.TriggerSweep)
		})
	})

	return r
}
