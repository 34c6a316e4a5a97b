package persistence

import (
	"context"
	"sync"

	"github.com/petrijr/docflow/pkg/api"
)

// InMemoryOutputCache keeps node outputs in a map keyed by execution.
type InMemoryOutputCache struct {
	mu      sync.RWMutex
	entries map[string]map[string]api.NodeOutput
}

// NewInMemoryOutputCache creates an empty cache.
func NewInMemoryOutputCache() *InMemoryOutputCache {
	return &InMemoryOutputCache{entries: make(map[string]map[string]api.NodeOutput)}
}

var _ OutputCache = (*InMemoryOutputCache)(nil)

func entryKey(nodeID, fingerprint string) string {
	return nodeID + "|" + fingerprint
}

func (c *InMemoryOutputCache) Get(ctx context.Context, key api.NodeOutputKey) (*api.NodeOutput, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out, ok := c.entries[key.ExecutionID][entryKey(key.NodeID, key.Fingerprint)]
	if !ok {
		return nil, false, nil
	}
	cp := out
	cp.Items = api.CloneItems(out.Items)
	return &cp, true, nil
}

func (c *InMemoryOutputCache) Put(ctx context.Context, out api.NodeOutput) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	byNode := c.entries[out.ExecutionID]
	if byNode == nil {
		byNode = make(map[string]api.NodeOutput)
		c.entries[out.ExecutionID] = byNode
	}
	out.Items = api.CloneItems(out.Items)
	byNode[entryKey(out.NodeID, out.Fingerprint)] = out
	return nil
}

func (c *InMemoryOutputCache) Invalidate(ctx context.Context, executionID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries[executionID])
	delete(c.entries, executionID)
	return n, nil
}

// Len returns the number of cached entries for an execution.
func (c *InMemoryOutputCache) Len(executionID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries[executionID])
}
