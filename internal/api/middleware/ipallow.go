package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/Fantasim/tappos/internal/api/httputil"
	"github.com/Fantasim/tappos/internal/config"
)

var privateRanges = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"::1/128",
	"fc00::/7",
)

// IPAllowlist restricts the terminal API to the checkout network.
// Localhost and private-network IPs are always allowed; anything else must
// be listed in TERMINAL_ALLOWED_IPS.
type IPAllowlist struct {
	mu      sync.RWMutex
	allowed map[string]bool
}

// NewIPAllowlist creates an IPAllowlist from the configured IPs.
func NewIPAllowlist(ips []string) *IPAllowlist {
	al := &IPAllowlist{}
	al.Refresh(ips)
	return al
}

// Middleware returns an HTTP middleware that checks the client IP against the allowlist.
// Only the connection's RemoteAddr is trusted; forwarding headers are ignored.
func (al *IPAllowlist) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := extractIP(r.RemoteAddr)

		if al.IsAllowed(clientIP) {
			next.ServeHTTP(w, r)
			return
		}

		slog.Warn("IP not allowed",
			"ip", clientIP,
			"method", r.Method,
			"path", r.URL.Path,
		)
		httputil.Error(w, http.StatusForbidden, config.ErrorIPNotAllowed,
			"IP address "+clientIP+" is not in the allowlist")
	})
}

// IsAllowed checks whether the given IP should be granted access.
func (al *IPAllowlist) IsAllowed(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if parsed.IsLoopback() || isPrivateIP(parsed) {
		return true
	}

	al.mu.RLock()
	defer al.mu.RUnlock()
	return al.allowed[parsed.String()]
}

// Refresh replaces the allowlist.
func (al *IPAllowlist) Refresh(ips []string) {
	allowed := make(map[string]bool, len(ips))
	for _, ip := range ips {
		parsed := net.ParseIP(strings.TrimSpace(ip))
		if parsed == nil {
			slog.Warn("ignoring invalid allowlist entry", "ip", ip)
			continue
		}
		allowed[parsed.String()] = true
	}

	al.mu.Lock()
	al.allowed = allowed
	al.mu.Unlock()

	slog.Info("IP allowlist loaded", "allowedIPs", len(allowed))
}

// extractIP extracts the IP address from a host:port string.
// If there's no port, returns the string as-is.
func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func isPrivateIP(ip net.IP) bool {
	for _, cidr := range privateRanges {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(networks ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(networks))
	for _, n := range networks {
		_, cidr, err := net.ParseCIDR(n)
		if err != nil {
			panic(err)
		}
		out = append(out, cidr)
	}
	return out
}
