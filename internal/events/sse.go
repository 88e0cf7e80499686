package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/metrics"
	"github.com/Fantasim/tappos/internal/models"
)

// Hub fans status events out to connected SSE clients.
type Hub struct {
	clients map[chan models.StatusEvent]struct{}
	mu      sync.RWMutex
	metrics metrics.Recorder
}

// NewHub creates an SSE hub. rec may be nil.
func NewHub(rec metrics.Recorder) *Hub {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	slog.Info("SSE hub created")
	return &Hub{
		clients: make(map[chan models.StatusEvent]struct{}),
		metrics: rec,
	}
}

// Run blocks until ctx is cancelled, then closes every client channel.
func (h *Hub) Run(ctx context.Context) {
	slog.Info("SSE hub running")
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}

	slog.Info("SSE hub stopped", "reason", ctx.Err())
}

// Subscribe registers a new client and returns a channel to receive events.
func (h *Hub) Subscribe() chan models.StatusEvent {
	ch := make(chan models.StatusEvent, config.SSEHubChannelBuffer)

	h.mu.Lock()
	h.clients[ch] = struct{}{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	slog.Info("SSE client subscribed", "totalClients", clientCount)

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (h *Hub) Unsubscribe(ch chan models.StatusEvent) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	clientCount := len(h.clients)
	h.mu.Unlock()

	slog.Info("SSE client unsubscribed", "totalClients", clientCount)
}

// Broadcast sends an event to all connected clients.
// Non-blocking: if a client's channel is full, the event is dropped for that client.
func (h *Hub) Broadcast(event models.StatusEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- event:
		default:
			h.metrics.IncCounter(metrics.EventDropped, map[string]string{metrics.LabelOutcome: "slow_client"})
			slog.Warn("SSE event dropped for slow client",
				"eventType", event.Type,
			)
		}
	}

	slog.Debug("SSE event broadcast",
		"type", event.Type,
		"clients", len(h.clients),
	)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
