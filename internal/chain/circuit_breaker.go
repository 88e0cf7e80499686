package chain

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Fantasim/tappos/internal/config"
)

// CircuitBreaker stops calls to an RPC endpoint after repeated failures.
//
//   - closed: calls pass; threshold consecutive failures open the circuit.
//   - open: calls are rejected until cooldown has elapsed since the last failure.
//   - half_open: up to CircuitBreakerHalfOpenMax trial calls pass; a success
//     closes the circuit, a failure reopens it.
type CircuitBreaker struct {
	mu               sync.Mutex
	endpoint         string
	state            string
	consecutiveFails int
	threshold        int
	cooldown         time.Duration
	lastFailure      time.Time
	halfOpenAllowed  int
	halfOpenCount    int
	now              func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker for endpoint.
func NewCircuitBreaker(endpoint string, threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		endpoint:        endpoint,
		state:           config.CircuitClosed,
		threshold:       threshold,
		cooldown:        cooldown,
		halfOpenAllowed: config.CircuitBreakerHalfOpenMax,
		now:             time.Now,
	}
}

// Allow reports whether a call may be made now.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case config.CircuitClosed:
		return true

	case config.CircuitOpen:
		if cb.now().Sub(cb.lastFailure) < cb.cooldown {
			return false
		}
		slog.Debug("circuit breaker half-open",
			"endpoint", cb.endpoint,
			"consecutiveFails", cb.consecutiveFails,
		)
		cb.state = config.CircuitHalfOpen
		cb.halfOpenCount = 1
		return true

	case config.CircuitHalfOpen:
		if cb.halfOpenCount < cb.halfOpenAllowed {
			cb.halfOpenCount++
			return true
		}
		return false
	}
	return false
}

// RecordSuccess closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != config.CircuitClosed {
		slog.Info("circuit breaker closed",
			"endpoint", cb.endpoint,
			"previousState", cb.state,
		)
	}
	cb.consecutiveFails = 0
	cb.state = config.CircuitClosed
	cb.halfOpenCount = 0
}

// RecordFailure counts a failed call and opens the circuit at the threshold,
// or immediately when probing from half-open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = cb.now()

	if cb.state == config.CircuitHalfOpen || cb.consecutiveFails >= cb.threshold {
		if cb.state != config.CircuitOpen {
			slog.Warn("circuit breaker opened",
				"endpoint", cb.endpoint,
				"consecutiveFails", cb.consecutiveFails,
				"threshold", cb.threshold,
				"cooldown", cb.cooldown,
			)
		}
		cb.state = config.CircuitOpen
		cb.halfOpenCount = 0
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current failure count.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFails
}
