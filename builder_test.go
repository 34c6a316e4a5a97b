package docflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineBuilder_ChainsSteps(t *testing.T) {
	def := Pipeline("ingest").
		Name("Ingest").
		Step(StepDedup, nil).
		Step(StepRuleFilter, map[string]any{"min_tokens": 3}).
		Step(StepEmbed, nil).
		Definition()

	assert.Equal(t, "ingest", def.ID)
	assert.Equal(t, "Ingest", def.Name)
	assert.Equal(t, KindPipeline, def.Kind)
	assert.True(t, def.IsActive)
	require.Len(t, def.Nodes, 3)
	assert.Equal(t, "dedup-1", def.Nodes[0].ID)
	assert.Equal(t, []string{"dedup-1"}, def.Nodes[1].DependsOn)
	assert.Equal(t, []string{"rule-filter-2"}, def.Nodes[2].DependsOn)
}

func TestWorkflowBuilder_KeepsDependencies(t *testing.T) {
	b := Workflow("enrich").
		Node("clean", StepDedup, nil).
		Node("sum", StepSummarize, map[string]any{"max_sentences": 1}, "clean").
		Node("graph", StepGraphExtract, nil, "clean").
		MaxConcurrency(2).
		Inactive()

	def := b.Definition()
	assert.Equal(t, KindWorkflow, def.Kind)
	assert.False(t, def.IsActive)
	assert.Equal(t, 2, def.MaxConcurrency)
	assert.Empty(t, def.Nodes[0].DependsOn)
	assert.Equal(t, []string{"clean"}, def.Nodes[2].DependsOn)

	// Definitions are independent copies.
	def.Nodes[1].Config["max_sentences"] = 9
	assert.Equal(t, 1, b.Definition().Nodes[1].Config["max_sentences"])
}

func TestBuilder_PanicsOnMissingNames(t *testing.T) {
	assert.Panics(t, func() { Pipeline("") })
	assert.Panics(t, func() { Pipeline("p").Step("", nil) })
}

func TestBuilder_RegisterValidates(t *testing.T) {
	ctx := context.Background()
	runner := newTestRunner(t)

	require.NoError(t, Pipeline("ok").Step(StepDedup, nil).Register(ctx, runner))

	err := Pipeline("bad").Step("translate", nil).Register(ctx, runner)
	require.Error(t, err)

	cyclic := Workflow("loop").
		Node("a", StepDedup, nil, "b").
		Node("b", StepDedup, nil, "a")
	require.Error(t, cyclic.Register(ctx, runner))
	assert.Panics(t, func() { cyclic.MustRegister(ctx, runner) })
}
