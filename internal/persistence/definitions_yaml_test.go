package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/docflow/pkg/api"
)

const sampleDefinitions = `
definitions:
  - id: ingest-default
    name: Default ingest
    kind: pipeline
    nodes:
      - step_type: dedup
      - step_type: rule-filter
        config:
          min_tokens: 3
          drop_patterns: ["^lorem"]
      - step_type: embed
  - id: enrich
    kind: workflow
    is_active: false
    max_concurrency: 2
    nodes:
      - id: clean
        step_type: dedup
      - id: sum
        step_type: summarize
        depends_on: [clean]
      - id: graph
        step_type: graph-extract
        depends_on: [clean]
`

func TestParseDefinitions(t *testing.T) {
	defs, err := ParseDefinitions([]byte(sampleDefinitions))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	ingest := defs[0]
	assert.True(t, ingest.IsActive, "is_active defaults to true")
	assert.Equal(t, "Default ingest", ingest.Name)
	require.Len(t, ingest.Nodes, 3)
	assert.Equal(t, "rule-filter-2", ingest.Nodes[1].ID)
	assert.Equal(t, []string{"rule-filter-2"}, ingest.Nodes[2].DependsOn)
	assert.Equal(t, 3, ingest.Nodes[1].Config["min_tokens"])

	enrich := defs[1]
	assert.False(t, enrich.IsActive)
	assert.Equal(t, api.KindWorkflow, enrich.Kind)
	assert.Equal(t, 2, enrich.MaxConcurrency)
	assert.Equal(t, "enrich", enrich.Name)
	assert.Equal(t, []string{"clean"}, enrich.Nodes[2].DependsOn)
}

func TestParseDefinitions_MissingID(t *testing.T) {
	_, err := ParseDefinitions([]byte("definitions:\n  - name: nameless\n"))
	require.Error(t, err)
}

func TestLoadDefinitions_DirectoryAndSeed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(sampleDefinitions), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	defs, err := LoadDefinitions(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	store := NewInMemoryStore()
	require.NoError(t, SeedDefinitions(context.Background(), store, defs))

	got, err := store.GetDefinition(context.Background(), "enrich")
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 3)
}
