package chain

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"
)

// RateLimiter spaces calls to one RPC endpoint.
type RateLimiter struct {
	limiter  *rate.Limiter
	endpoint string
}

// NewRateLimiter allows rps calls per second with burst 1 so calls are spread
// evenly. rps <= 0 disables limiting.
func NewRateLimiter(endpoint string, rps int) *RateLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	slog.Debug("rate limiter created",
		"endpoint", endpoint,
		"rps", rps,
	)
	return &RateLimiter{
		limiter:  rate.NewLimiter(limit, 1),
		endpoint: endpoint,
	}
}

// Wait blocks until a call is allowed or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := rl.limiter.Wait(ctx); err != nil {
		slog.Debug("rate limiter wait cancelled",
			"endpoint", rl.endpoint,
			"error", err,
		)
		return err
	}
	return nil
}
