package docflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStep_TransformsAndDrops(t *testing.T) {
	step := MapStep("upper", func(it Item) (Item, bool) {
		if it.Content == "" {
			return it, false
		}
		it.Content = strings.ToUpper(it.Content)
		return it, true
	})
	in := []Item{{ID: "a", Content: "hello"}, {ID: "b"}, {ID: "c", Content: "world"}}

	res, err := step.Execute(context.Background(), in, StepContext{})
	require.NoError(t, err)
	assert.Equal(t, "upper", step.Type())
	require.Len(t, res.Items, 2)
	assert.Equal(t, "HELLO", res.Items[0].Content)
	assert.Equal(t, "hello", in[0].Content, "input is not mutated")
	assert.Equal(t, 1, res.Metrics["dropped"])
}

func TestFilterStep(t *testing.T) {
	step := FilterStep("has-id", func(it Item) bool { return it.ID != "" })
	res, err := step.Execute(context.Background(), []Item{{ID: "x"}, {}}, StepContext{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "x", res.Items[0].ID)
}

func TestBatchStep_SeesConfig(t *testing.T) {
	step := BatchStep("take", func(ctx context.Context, items []Item, config map[string]any) ([]Item, error) {
		n, _ := config["n"].(int)
		if n > len(items) {
			n = len(items)
		}
		return items[:n], nil
	})
	res, err := step.Execute(context.Background(), []Item{{ID: "1"}, {ID: "2"}, {ID: "3"}}, StepContext{Config: map[string]any{"n": 2}})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
}

func TestFailingStep(t *testing.T) {
	boom := errors.New("boom")
	_, err := FailingStep("embed", boom).Execute(context.Background(), nil, StepContext{})
	assert.ErrorIs(t, err, boom)
}

func TestBuiltinSteps(t *testing.T) {
	types := make([]string, 0)
	for _, s := range BuiltinSteps() {
		types = append(types, s.Type())
	}
	assert.ElementsMatch(t, []string{StepDedup, StepRuleFilter, StepSummarize, StepEmbed, StepGraphExtract}, types)
}
