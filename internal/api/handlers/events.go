package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/events"
)

// statusEventType is sent once on connect so a reconnecting UI can resync.
const statusEventType = "status"

// EventsSSE handles GET /api/events as a Server-Sent Events stream of
// terminal status events.
func EventsSSE(hub *events.Hub, term StatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			slog.Error("SSE not supported: ResponseWriter does not implement Flusher")
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		ch := hub.Subscribe()
		defer hub.Unsubscribe(ch)

		slog.Info("SSE client connected", "remoteAddr", r.RemoteAddr)

		if snap, err := term.Status(); err == nil {
			writeSSE(w, statusEventType, snap)
		}
		flusher.Flush()

		keepalive := time.NewTicker(config.SSEKeepAliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case event, ok := <-ch:
				if !ok {
					slog.Debug("SSE hub closed, ending stream", "remoteAddr", r.RemoteAddr)
					return
				}
				writeSSE(w, event.Type, event)
				flusher.Flush()

			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flusher.Flush()

			case <-r.Context().Done():
				slog.Info("SSE client disconnected", "remoteAddr", r.RemoteAddr)
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal SSE payload", "eventType", eventType, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
}
