package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/Fantasim/tappos/internal/api/middleware"
	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/events"
	"github.com/Fantasim/tappos/internal/metrics"
	"github.com/Fantasim/tappos/internal/terminal"
)

// idleTerminal never arms; it is enough to exercise routing.
type idleTerminal struct{}

func (idleTerminal) ArmForPayment(decimal.Decimal) (*terminal.Future[terminal.PaymentResult], error) {
	return nil, config.ErrNotRunning
}

func (idleTerminal) ArmForAddressScan() (*terminal.Future[terminal.ScanResult], error) {
	return nil, config.ErrNotRunning
}

func (idleTerminal) Cancel() error            { return nil }
func (idleTerminal) CancelCycle(string) error { return nil }

func (idleTerminal) Status() (terminal.Snapshot, error) {
	return terminal.Snapshot{Mode: terminal.ModeIdle, Phase: terminal.PhaseIdle, ReaderConnected: true}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.NewPrometheusRecorder(reg).IncCounter(metrics.TapReceived, nil)

	return NewRouter(&Dependencies{
		Terminal:  idleTerminal{},
		Hub:       events.NewHub(metrics.NoopRecorder{}),
		Allowlist: middleware.NewIPAllowlist(nil),
		Gatherer:  reg,
	})
}

func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		method     string
		path       string
		remoteAddr string
		wantStatus int
	}{
		{http.MethodGet, "/api/health", "127.0.0.1:1000", http.StatusOK},
		{http.MethodGet, "/api/health", "8.8.8.8:1000", http.StatusOK},
		{http.MethodGet, "/api/terminal/status", "192.168.1.5:1000", http.StatusOK},
		{http.MethodGet, "/api/terminal/status", "8.8.8.8:1000", http.StatusForbidden},
		{http.MethodPost, "/api/terminal/cancel", "127.0.0.1:1000", http.StatusOK},
		{http.MethodPost, "/api/terminal/scan", "127.0.0.1:1000", http.StatusServiceUnavailable},
		{http.MethodGet, "/api/terminal/payment", "127.0.0.1:1000", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", "127.0.0.1:1000", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path+" from "+tt.remoteAddr, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.RemoteAddr = tt.remoteAddr
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_IgnoresForwardedHeaders(t *testing.T) {
	router := newTestRouter(t)

	headers := []struct {
		name  string
		value string
	}{
		{"X-Forwarded-For", "127.0.0.1"},
		{"X-Real-IP", "127.0.0.1"},
		{"True-Client-IP", "192.168.1.5"},
	}

	for _, h := range headers {
		t.Run(h.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/terminal/cancel", nil)
			req.RemoteAddr = "8.8.8.8:1000"
			req.Header.Set(h.name, h.value)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusForbidden {
				t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
			}
			if !strings.Contains(w.Body.String(), config.ErrorIPNotAllowed) {
				t.Errorf("body = %s, want %s", w.Body.String(), config.ErrorIPNotAllowed)
			}
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), config.MetricsNamespace+"_") {
		t.Errorf("metrics output missing %s namespace", config.MetricsNamespace)
	}
}
