package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/metrics"
)

// endpoint pairs a Client with its rate limiter and circuit breaker.
type endpoint struct {
	client  Client
	limiter *RateLimiter
	breaker *CircuitBreaker
}

// EndpointHealth is a point-in-time view of one endpoint's breaker.
type EndpointHealth struct {
	Endpoint         string `json:"endpoint"`
	State            string `json:"state"`
	ConsecutiveFails int    `json:"consecutive_fails"`
}

// ProviderSet rotates calls across the RPC endpoints of one chain.
// On failure it moves to the next endpoint and retries until every endpoint
// has been tried once.
type ProviderSet struct {
	mu        sync.Mutex
	endpoints []endpoint
	current   int
	chain     string
	metrics   metrics.Recorder
}

// NewProviderSet wraps clients for chain, each limited to rps calls per second.
func NewProviderSet(chain string, clients []Client, rps int, rec metrics.Recorder) *ProviderSet {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	eps := make([]endpoint, len(clients))
	for i, c := range clients {
		eps[i] = endpoint{
			client:  c,
			limiter: NewRateLimiter(c.Endpoint(), rps),
			breaker: NewCircuitBreaker(c.Endpoint(), config.CircuitBreakerThreshold, config.CircuitBreakerCooldown),
		}
	}

	slog.Info("provider set created",
		"chain", chain,
		"endpoints", len(clients),
		"rps", rps,
	)

	return &ProviderSet{
		endpoints: eps,
		chain:     chain,
		metrics:   rec,
	}
}

// permanent reports errors that another endpoint would return too.
func permanent(err error) bool {
	return errors.Is(err, config.ErrInvalidAddress) ||
		errors.Is(err, config.ErrUnsupportedToken)
}

// execute runs fn against endpoints in round-robin order. Each attempt is
// bounded by RPCCallTimeout.
func execute[T any](ctx context.Context, ps *ProviderSet, op string, fn func(context.Context, Client) (T, error)) (T, error) {
	var zero T

	ps.mu.Lock()
	n := len(ps.endpoints)
	if n == 0 {
		ps.mu.Unlock()
		return zero, fmt.Errorf("%w: chain=%s", config.ErrNoProviders, ps.chain)
	}
	startIdx := ps.current
	ps.mu.Unlock()

	labels := map[string]string{metrics.LabelChain: ps.chain}

	var lastErr error
	for attempt := 0; attempt < n; attempt++ {
		idx := (startIdx + attempt) % n
		ep := ps.endpoints[idx]

		if !ep.breaker.Allow() {
			slog.Debug("endpoint circuit open, skipping",
				"chain", ps.chain,
				"endpoint", ep.client.Endpoint(),
				"op", op,
			)
			lastErr = fmt.Errorf("%w: %s", config.ErrCircuitOpen, ep.client.Endpoint())
			continue
		}

		if err := ep.limiter.Wait(ctx); err != nil {
			return zero, fmt.Errorf("rate limiter cancelled for %s: %w", ep.client.Endpoint(), err)
		}

		callCtx, cancel := context.WithTimeout(ctx, config.RPCCallTimeout)
		start := time.Now()
		result, err := fn(callCtx, ep.client)
		elapsed := time.Since(start)
		cancel()

		if err != nil && permanent(err) {
			return zero, err
		}

		if err != nil {
			ep.breaker.RecordFailure()
			ps.metrics.IncCounter(metrics.RPCFailure, labels)
			slog.Warn("rpc call failed, rotating",
				"chain", ps.chain,
				"endpoint", ep.client.Endpoint(),
				"op", op,
				"error", err,
				"attempt", attempt+1,
				"endpoints", n,
				"elapsed", elapsed.Round(time.Millisecond),
			)
			lastErr = err

			ps.mu.Lock()
			ps.current = (idx + 1) % n
			ps.mu.Unlock()

			if ctx.Err() != nil {
				break
			}
			continue
		}

		ep.breaker.RecordSuccess()
		ps.metrics.ObserveLatency(metrics.RPCCall, elapsed, labels)

		slog.Debug("rpc call succeeded",
			"chain", ps.chain,
			"endpoint", ep.client.Endpoint(),
			"op", op,
			"elapsed", elapsed.Round(time.Millisecond),
		)
		return result, nil
	}

	slog.Error("all endpoints failed",
		"chain", ps.chain,
		"op", op,
		"lastError", lastErr,
	)
	return zero, config.NewTransientError(fmt.Errorf("%w: chain=%s op=%s: %v", config.ErrAllProvidersFailed, ps.chain, op, lastErr))
}

// Health returns the breaker state of every endpoint.
func (ps *ProviderSet) Health() []EndpointHealth {
	out := make([]EndpointHealth, len(ps.endpoints))
	for i, ep := range ps.endpoints {
		out[i] = EndpointHealth{
			Endpoint:         ep.client.Endpoint(),
			State:            ep.breaker.State(),
			ConsecutiveFails: ep.breaker.ConsecutiveFailures(),
		}
	}
	return out
}

// Close closes every endpoint client.
func (ps *ProviderSet) Close() {
	for _, ep := range ps.endpoints {
		ep.client.Close()
	}
}
