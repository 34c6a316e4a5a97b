// Package notify fans execution and job events out to connected clients.
//
// Delivery is at-most-once: a client receives messages broadcast after it
// connected, and a client whose buffer is full misses the message.
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/docflow/pkg/api"
)

// DefaultClientBuffer is the per-client message buffer.
const DefaultClientBuffer = 64

// Client is one connected notification stream.
type Client struct {
	id          string
	ch          chan api.NotificationMessage
	connectedAt time.Time
	dropped     atomic.Int64
	closed      atomic.Bool
}

// ID returns the client identifier.
func (c *Client) ID() string { return c.id }

// C returns the read-only message channel. It is closed on disconnect.
func (c *Client) C() <-chan api.NotificationMessage { return c.ch }

// Dropped returns how many messages this client missed.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// ConnectedAt returns when the client connected.
func (c *Client) ConnectedAt() time.Time { return c.connectedAt }

func (c *Client) close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.ch)
	}
}

// HubStats contains hub metrics.
type HubStats struct {
	Clients   int   `json:"clients"`
	Broadcast int64 `json:"broadcast"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

// Hub keeps the set of connected clients and broadcasts to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	bufferSize int
	logger     *slog.Logger

	broadcast atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithClientBuffer sets the per-client buffer size.
func WithClientBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithHubLogger sets the logger.
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		bufferSize: DefaultClientBuffer,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect registers a client. An empty id gets a generated one. Connecting
// with an id already in use replaces the older stream.
func (h *Hub) Connect(id string) *Client {
	if id == "" {
		id = uuid.NewString()
	}
	c := &Client{
		id:          id,
		ch:          make(chan api.NotificationMessage, h.bufferSize),
		connectedAt: time.Now(),
	}

	h.mu.Lock()
	if old, ok := h.clients[id]; ok {
		old.close()
	}
	h.clients[id] = c
	h.mu.Unlock()

	h.logger.Debug("notification client connected", slog.String("client_id", id))
	return c
}

// Disconnect removes c and closes its channel. It is a no-op if c was
// already replaced or removed.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	c.close()

	h.logger.Debug("notification client disconnected",
		slog.String("client_id", c.id),
		slog.Int64("dropped", c.Dropped()),
	)
}

// Broadcast offers msg to every client without blocking and returns how
// many clients accepted it.
func (h *Hub) Broadcast(msg api.NotificationMessage) int {
	h.broadcast.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, c := range h.clients {
		if c.closed.Load() {
			continue
		}
		select {
		case c.ch <- msg:
			delivered++
		default:
			c.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
	h.delivered.Add(int64(delivered))
	return delivered
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns hub metrics.
func (h *Hub) Stats() HubStats {
	return HubStats{
		Clients:   h.Clients(),
		Broadcast: h.broadcast.Load(),
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
