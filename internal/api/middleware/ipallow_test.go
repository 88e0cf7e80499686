package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Fantasim/tappos/internal/config"
)

func TestIPAllowlist_Localhost(t *testing.T) {
	al := NewIPAllowlist(nil)

	if !al.IsAllowed("127.0.0.1") {
		t.Error("127.0.0.1 should be allowed")
	}
	if !al.IsAllowed("::1") {
		t.Error("::1 should be allowed")
	}
}

func TestIPAllowlist_PrivateIPs(t *testing.T) {
	al := NewIPAllowlist(nil)

	privateIPs := []string{
		"10.0.0.1",
		"10.255.255.255",
		"172.16.0.1",
		"172.31.255.255",
		"192.168.0.1",
		"192.168.1.100",
		"fd00::1",
	}

	for _, ip := range privateIPs {
		if !al.IsAllowed(ip) {
			t.Errorf("private IP %s should be allowed", ip)
		}
	}
}

func TestIPAllowlist_UnknownIP(t *testing.T) {
	al := NewIPAllowlist(nil)

	for _, ip := range []string{"8.8.8.8", "172.32.0.1", "not-an-ip", ""} {
		if al.IsAllowed(ip) {
			t.Errorf("%q should NOT be allowed", ip)
		}
	}
}

func TestIPAllowlist_ConfiguredIPs(t *testing.T) {
	al := NewIPAllowlist([]string{"8.8.8.8", " 1.2.3.4 ", "bogus"})

	if !al.IsAllowed("8.8.8.8") {
		t.Error("8.8.8.8 should be allowed when configured")
	}
	if !al.IsAllowed("1.2.3.4") {
		t.Error("1.2.3.4 should be allowed after trimming")
	}
	if al.IsAllowed("5.6.7.8") {
		t.Error("5.6.7.8 should NOT be allowed")
	}
}

func TestIPAllowlist_Refresh(t *testing.T) {
	al := NewIPAllowlist([]string{"1.2.3.4"})

	al.Refresh([]string{"8.8.8.8"})

	if !al.IsAllowed("8.8.8.8") {
		t.Error("8.8.8.8 should be allowed after refresh")
	}
	if al.IsAllowed("1.2.3.4") {
		t.Error("1.2.3.4 should be removed by refresh")
	}
}

func TestIPAllowlist_Middleware(t *testing.T) {
	al := NewIPAllowlist([]string{"8.8.8.8"})
	handler := al.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		remoteAddr string
		wantStatus int
	}{
		{"127.0.0.1:5555", http.StatusOK},
		{"192.168.1.20:40000", http.StatusOK},
		{"8.8.8.8:1234", http.StatusOK},
		{"9.9.9.9:1234", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.remoteAddr, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/terminal/status", nil)
			req.RemoteAddr = tt.remoteAddr
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusForbidden {
				return
			}
			var resp struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error.Code != config.ErrorIPNotAllowed {
				t.Errorf("code = %q, want %q", resp.Error.Code, config.ErrorIPNotAllowed)
			}
		})
	}
}

func TestExtractIP(t *testing.T) {
	tests := map[string]string{
		"10.0.0.1:8080": "10.0.0.1",
		"[::1]:8080":    "::1",
		"192.168.1.1":   "192.168.1.1",
	}
	for in, want := range tests {
		if got := extractIP(in); got != want {
			t.Errorf("extractIP(%q) = %q, want %q", in, got, want)
		}
	}
}
