/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request log (logging.Middleware)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend
  5. Session:    Bearer token -> ledger.Session on the context

ROUTE GROUPS:
  /healthz              Store ping
  /api/auth/*           Register, login, logout, me, status, password
  /api/accounts/*       Account management (admin)
  /api/deliveries       Record and query deliveries
  /api/reports/*        Recap, dashboard, monthly, payroll

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dhn/kerupuk-ledger/config"
	"github.com/dhn/kerupuk-ledger/logging"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsConf config.CORSConf) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsConf.AllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           corsConf.MaxAge,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.withSession)

		// Auth routes
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
			r.Get("/status", h.Status)

			r.Group(func(r chi.Router) {
				r.Use(h.requireSession)
				r.Get("/me", h.Me)
				r.Post("/password", h.ChangePassword)
			})
		})

		// Everything below needs a logged-in caller
		r.Group(func(r chi.Router) {
			r.Use(h.requireSession)

			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", h.ListAccounts)
				r.Post("/{username}/promote", h.PromoteAccount)
			})

			r.Route("/deliveries", func(r chi.Router) {
				r.Get("/", h.ListDeliveries)
				r.Post("/", h.RecordDelivery)
			})

			r.Route("/reports", func(r chi.Router) {
				r.Get("/recap", h.Recap)
				r.Get("/dashboard", h.Dashboard)
				r.Get("/monthly", h.MonthlyReport)
				r.Get("/payroll", h.Payroll)
			})
		})
	})

	return r
}
