// Package metrics records terminal counters and latencies.
package metrics

import "time"

// Metric names shared by all components.
const (
	RPCCall          = "rpc_call"
	RPCFailure       = "rpc_failure"
	PriceFetch       = "price_fetch"
	PortfolioFetch   = "portfolio_fetch"
	TapReceived      = "tap_received"
	TapRejected      = "tap_rejected"
	CycleResolved    = "cycle_resolved"
	ConfirmTick      = "confirm_tick"
	ConfirmTickError = "confirm_tick_error"
	EventDropped     = "event_dropped"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
