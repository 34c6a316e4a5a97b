package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ClientIDHeader optionally names the stream. Without it the hub assigns
// an id, returned in the same header on the response.
const ClientIDHeader = "X-Client-ID"

// StreamHandler serves the hub as Server-Sent Events.
type StreamHandler struct {
	hub       *Hub
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewStreamHandler creates an SSE handler. heartbeat <= 0 means 15s.
func NewStreamHandler(hub *Hub, heartbeat time.Duration, logger *slog.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{hub: hub, heartbeat: heartbeat, logger: logger}
}

func (s *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	client := s.hub.Connect(r.Header.Get(ClientIDHeader))
	defer s.hub.Disconnect(client)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set(ClientIDHeader, client.ID())
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": connected %s\n\n", client.ID())
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, open := <-client.C():
			if !open {
				return
			}
			body, err := json.Marshal(msg)
			if err != nil {
				s.logger.Warn("notification encode failed",
					slog.String("client_id", client.ID()),
					slog.Any("error", err),
				)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, body); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
