package handlers

import (
	"log/slog"
	"net/http"

	"github.com/Fantasim/tappos/internal/api/httputil"
	"github.com/Fantasim/tappos/internal/chain"
	"github.com/Fantasim/tappos/internal/terminal"
)

// StatusReader reports the terminal state.
type StatusReader interface {
	Status() (terminal.Snapshot, error)
}

// ProviderHealth reports per-endpoint breaker state keyed by chain name.
type ProviderHealth interface {
	Health() map[string][]chain.EndpointHealth
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status     string                            `json:"status"`
	Version    string                            `json:"version"`
	Reader     bool                              `json:"reader"`
	Monitoring bool                              `json:"monitoring"`
	Providers  map[string][]chain.EndpointHealth `json:"providers,omitempty"`
}

// HealthHandler returns a handler for the GET /api/health endpoint. It reports
// "degraded" when the reader is missing and "down" when the terminal actor is
// not running.
func HealthHandler(term StatusReader, providers ProviderHealth, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("health check requested", "remoteAddr", r.RemoteAddr)

		resp := HealthResponse{Status: "ok", Version: version}
		if providers != nil {
			resp.Providers = providers.Health()
		}

		snap, err := term.Status()
		if err != nil {
			resp.Status = "down"
			httputil.JSON(w, http.StatusServiceUnavailable, resp)
			return
		}

		resp.Reader = snap.ReaderConnected
		resp.Monitoring = snap.Monitoring
		if !snap.ReaderConnected {
			resp.Status = "degraded"
		}
		httputil.JSON(w, http.StatusOK, resp)
	}
}
