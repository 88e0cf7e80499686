package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Fantasim/tappos/internal/api/handlers"
	"github.com/Fantasim/tappos/internal/api/middleware"
	"github.com/Fantasim/tappos/internal/events"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Dependencies holds all service references needed by the API layer.
type Dependencies struct {
	Terminal  handlers.Terminal
	Providers handlers.ProviderHealth
	Hub       *events.Hub
	Allowlist *middleware.IPAllowlist
	Gatherer  prometheus.Gatherer
}

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(deps *Dependencies) chi.Router {
	r := chi.NewRouter()

	// No RealIP: the allowlist must see the socket peer, not a client-supplied
	// X-Forwarded-For.
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogging)

	slog.Info("router initialized",
		"middleware", []string{"recoverer", "requestLogging"},
	)

	// Exempt routes: no IP check.
	r.Get("/api/health", handlers.HealthHandler(deps.Terminal, deps.Providers, Version))
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(deps.Allowlist.Middleware)

		r.Route("/terminal", func(r chi.Router) {
			r.Post("/payment", handlers.ArmPaymentHandler(deps.Terminal))
			r.Post("/scan", handlers.ScanHandler(deps.Terminal))
			r.Post("/cancel", handlers.CancelHandler(deps.Terminal))
			r.Get("/status", handlers.StatusHandler(deps.Terminal))
		})

		r.Get("/events", handlers.EventsSSE(deps.Hub, deps.Terminal))
	})

	return r
}
