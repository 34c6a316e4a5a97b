package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/docflow/pkg/api"
)

// runOutputCacheContract exercises behaviour every OutputCache must share.
func runOutputCacheContract(t *testing.T, c OutputCache) {
	ctx := context.Background()
	key := api.NodeOutputKey{ExecutionID: "exec-1", NodeID: "dedup-1", Fingerprint: "fp-a"}

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "empty cache must miss")

	out := api.NodeOutput{
		NodeOutputKey: key,
		Items: []api.Item{
			{ID: "1", Content: "alpha", Metadata: map[string]any{"tokens": 1, "source": "doc"}},
			{ID: "2", Content: "beta", Embedding: []float32{0.5, 0.25}},
		},
		Metrics:    map[string]any{"removed": 2},
		ComputedAt: time.Now().Round(0),
	}
	require.NoError(t, c.Put(ctx, out))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "alpha", got.Items[0].Content)
	assert.Equal(t, "doc", got.Items[0].Metadata["source"])
	assert.Equal(t, []float32{0.5, 0.25}, got.Items[1].Embedding)

	// A different fingerprint is a different entry.
	other := key
	other.Fingerprint = "fp-b"
	_, ok, err = c.Get(ctx, other)
	require.NoError(t, err)
	assert.False(t, ok)

	second := out
	second.NodeID = "embed-3"
	require.NoError(t, c.Put(ctx, second))

	n, err := c.Invalidate(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "invalidated entries must miss")
}

func TestInMemoryOutputCache_Contract(t *testing.T) {
	runOutputCacheContract(t, NewInMemoryOutputCache())
}

func TestSQLiteOutputCache_Contract(t *testing.T) {
	c, err := NewSQLiteOutputCache(newTestSQLiteDB(t))
	require.NoError(t, err)
	runOutputCacheContract(t, c)
}

func TestInMemoryOutputCache_ReturnsCopies(t *testing.T) {
	c := NewInMemoryOutputCache()
	ctx := context.Background()
	key := api.NodeOutputKey{ExecutionID: "e", NodeID: "n"}
	require.NoError(t, c.Put(ctx, api.NodeOutput{NodeOutputKey: key, Items: []api.Item{{ID: "1", Content: "x"}}}))

	got, _, _ := c.Get(ctx, key)
	got.Items[0].Content = "mutated"

	again, _, _ := c.Get(ctx, key)
	assert.Equal(t, "x", again.Items[0].Content)
}
