package notify

import (
	"context"
	"sync"

	"github.com/petrijr/docflow/pkg/api"
)

// Filter selects notifications. A zero Filter matches everything.
type Filter struct {
	Types  []string
	Fields map[string]string
}

// Match reports whether msg passes the filter.
func (f Filter) Match(msg api.NotificationMessage) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == msg.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for k, v := range f.Fields {
		if msg.Field(k) != v {
			return false
		}
	}
	return true
}

// Collector buffers matching notifications for consumers that poll instead
// of holding a stream open. The buffer is bounded; the oldest messages are
// evicted first.
type Collector struct {
	filter Filter
	limit  int

	mu     sync.Mutex
	buf    []api.NotificationMessage
	notify chan struct{}
}

// NewCollector creates a collector keeping at most limit messages
// (limit <= 0 means 256).
func NewCollector(filter Filter, limit int) *Collector {
	if limit <= 0 {
		limit = 256
	}
	return &Collector{filter: filter, limit: limit, notify: make(chan struct{})}
}

// Broadcast implements Sink. It returns 1 when msg was kept.
func (c *Collector) Broadcast(msg api.NotificationMessage) int {
	if !c.filter.Match(msg) {
		return 0
	}
	c.mu.Lock()
	c.buf = append(c.buf, msg)
	if over := len(c.buf) - c.limit; over > 0 {
		c.buf = append(c.buf[:0:0], c.buf[over:]...)
	}
	close(c.notify)
	c.notify = make(chan struct{})
	c.mu.Unlock()
	return 1
}

// Snapshot returns a copy of the buffered messages.
func (c *Collector) Snapshot() []api.NotificationMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]api.NotificationMessage(nil), c.buf...)
}

// Drain returns and clears the buffered messages.
func (c *Collector) Drain() []api.NotificationMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.buf
	c.buf = nil
	return out
}

// WaitFor blocks until a buffered message satisfies match or ctx ends.
func (c *Collector) WaitFor(ctx context.Context, match func(api.NotificationMessage) bool) (api.NotificationMessage, error) {
	for {
		c.mu.Lock()
		for _, m := range c.buf {
			if match(m) {
				c.mu.Unlock()
				return m, nil
			}
		}
		wake := c.notify
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return api.NotificationMessage{}, ctx.Err()
		case <-wake:
		}
	}
}
