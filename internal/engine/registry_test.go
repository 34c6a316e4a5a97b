package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/docflow/pkg/api"
)

func passthrough(stepType string) api.Step {
	return api.NamedStep(stepType, func(ctx context.Context, items []api.Item, sc api.StepContext) (api.StepResult, error) {
		return api.StepResult{Items: items}, nil
	})
}

func TestStepRegistry_LastRegistrationWins(t *testing.T) {
	r := NewStepRegistry(nil)

	first := passthrough("dedup")
	second := api.NamedStep("dedup", func(ctx context.Context, items []api.Item, sc api.StepContext) (api.StepResult, error) {
		return api.StepResult{}, errors.New("second")
	})
	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))
	require.NoError(t, r.Register(passthrough("embed")))

	got, ok := r.Get("dedup")
	require.True(t, ok)
	_, err := got.Execute(context.Background(), nil, api.StepContext{})
	assert.EqualError(t, err, "second")

	assert.Equal(t, []string{"dedup", "embed"}, r.Types())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestStepRegistry_RejectsInvalid(t *testing.T) {
	r := NewStepRegistry(nil)
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(passthrough("")))
}

func TestValidateDefinitions(t *testing.T) {
	r := NewStepRegistry(nil)
	require.NoError(t, r.Register(passthrough("dedup")))

	good := api.Definition{ID: "good", Nodes: []api.NodeDefinition{{StepType: "dedup"}}}
	require.NoError(t, ValidateDefinitions([]api.Definition{good}, r))

	unknown := api.Definition{ID: "unknown", Nodes: []api.NodeDefinition{{StepType: "dedup"}, {StepType: "ocr"}}}
	cyclic := api.Definition{ID: "cyclic", Kind: api.KindWorkflow, Nodes: []api.NodeDefinition{
		{ID: "a", StepType: "dedup", DependsOn: []string{"b"}},
		{ID: "b", StepType: "dedup", DependsOn: []string{"a"}},
	}}

	err := ValidateDefinitions([]api.Definition{good, unknown, cyclic}, r)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStepNotRegistered))
	assert.True(t, errors.Is(err, ErrCycleDetected))
	assert.Contains(t, err.Error(), `"ocr"`)
	assert.True(t, IsConfigError(err))
}
