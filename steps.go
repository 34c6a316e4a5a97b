package docflow

import (
	"context"

	"github.com/petrijr/docflow/pkg/api"
)

// MapStep returns a step that applies fn to a copy of every item. Items for
// which fn returns false are dropped.
func MapStep(stepType string, fn func(Item) (Item, bool)) Step {
	return api.NamedStep(stepType, func(ctx context.Context, items []Item, sc StepContext) (StepResult, error) {
		out := make([]Item, 0, len(items))
		for _, it := range items {
			if err := ctx.Err(); err != nil {
				return StepResult{}, err
			}
			if next, keep := fn(it.Clone()); keep {
				out = append(out, next)
			}
		}
		return StepResult{Items: out, Metrics: map[string]any{"dropped": len(items) - len(out)}}, nil
	})
}

// FilterStep returns a step that keeps the items matching keep.
func FilterStep(stepType string, keep func(Item) bool) Step {
	return MapStep(stepType, func(it Item) (Item, bool) { return it, keep(it) })
}

// BatchStep returns a step that hands fn the whole batch at once, along with
// the node's config.
func BatchStep(stepType string, fn func(ctx context.Context, items []Item, config map[string]any) ([]Item, error)) Step {
	return api.NamedStep(stepType, func(ctx context.Context, items []Item, sc StepContext) (StepResult, error) {
		out, err := fn(ctx, api.CloneItems(items), sc.Config)
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{Items: out}, nil
	})
}

// FailingStep returns a step that always fails with err. It is useful for
// exercising retry and cancellation paths.
func FailingStep(stepType string, err error) Step {
	return api.NamedStep(stepType, func(ctx context.Context, items []Item, sc StepContext) (StepResult, error) {
		return StepResult{}, err
	})
}
