/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging (structured through the std log bridge)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/companies/*                     Directory, program, accrual, rewards
  /api/clients/*                       Directory and client program views
  /api/scenarios/*                     Demo scenarios
  /metrics                             Prometheus exposition (optional)

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

// RouterOptions configures the router beyond the handlers.
type RouterOptions struct {
	AllowedOrigins []string

	// Metrics, when set, is mounted at MetricsPath.
	Metrics     http.Handler
	MetricsPath string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, opts.Metrics)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Company routes
		r.Route("/companies", func(r chi.Router) {
			r.Get("/", h.ListCompanies)
			r.Post("/", h.CreateCompany)

			r.Route("/{companyID}", func(r chi.Router) {
				r.Get("/", h.GetCompany)
				r.Get("/depots", h.ListDepots)
				r.Post("/depots", h.CreateDepot)
				r.Get("/orders", h.ListOrders)

				// Loyalty program routes
				r.Route("/loyalty", func(r chi.Router) {
					r.Get("/", h.GetProgram)
					r.Put("/", h.ApplyProgram)
					r.Put("/ratio", h.SetRatio)

					r.Post("/tiers", h.AddTier)
					r.Put("/tiers/{tierID}", h.UpdateTier)
					r.Delete("/tiers/{tierID}", h.RemoveTier)

					r.Put("/spend-reward", h.SetSpendReward)
					r.Delete("/spend-reward", h.ClearSpendReward)
					r.Put("/repeat-reward", h.SetRepeatReward)
					r.Delete("/repeat-reward", h.ClearRepeatReward)

					r.Post("/purchases", h.RecordPurchase)
					r.Post("/grants", h.GrantPoints)

					r.Route("/rewards", func(r chi.Router) {
						r.Get("/pending", h.ListPendingRewards)
						r.Post("/deliver", h.DeliverRewards)
						r.Post("/deliver-all", h.DeliverAllRewards)
						r.Post("/mark-delivered", h.MarkRewardsDelivered)
					})
				})
			})
		})

		// Client routes
		r.Route("/clients", func(r chi.Router) {
			r.Get("/", h.ListClients)
			r.Post("/", h.CreateClient)
			r.Get("/{clientID}", h.GetClient)
			r.Get("/{clientID}/programs", h.ListClientPrograms)
			r.Get("/{clientID}/programs/{companyID}", h.GetClientProgram)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
