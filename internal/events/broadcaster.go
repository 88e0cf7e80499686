// Package events delivers terminal status events to the checkout UI and log
// sinks. Delivery is fire-and-forget: a failing sink never blocks or breaks
// the terminal.
package events

import (
	"log/slog"

	"github.com/Fantasim/tappos/internal/metrics"
	"github.com/Fantasim/tappos/internal/models"
)

// Broadcaster receives status events.
type Broadcaster interface {
	Broadcast(event models.StatusEvent)
}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(models.StatusEvent)

func (f BroadcasterFunc) Broadcast(event models.StatusEvent) { f(event) }

// Fanout forwards every event to each sink in order. A panicking sink is
// recovered and the remaining sinks still receive the event.
type Fanout struct {
	sinks   []Broadcaster
	metrics metrics.Recorder
}

// NewFanout creates a Fanout over sinks. rec may be nil.
func NewFanout(rec metrics.Recorder, sinks ...Broadcaster) *Fanout {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Fanout{sinks: sinks, metrics: rec}
}

func (f *Fanout) Broadcast(event models.StatusEvent) {
	for _, s := range f.sinks {
		deliver(s, event, f.metrics)
	}
}

// Safe wraps b so that a panic inside Broadcast is logged instead of
// propagating to the caller.
func Safe(b Broadcaster, rec metrics.Recorder) Broadcaster {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return BroadcasterFunc(func(event models.StatusEvent) {
		deliver(b, event, rec)
	})
}

func deliver(b Broadcaster, event models.StatusEvent, rec metrics.Recorder) {
	defer func() {
		if r := recover(); r != nil {
			rec.IncCounter(metrics.EventDropped, map[string]string{metrics.LabelOutcome: "panic"})
			slog.Error("status sink panicked",
				"eventType", event.Type,
				"cycleID", event.CycleID,
				"panic", r,
			)
		}
	}()
	b.Broadcast(event)
}
