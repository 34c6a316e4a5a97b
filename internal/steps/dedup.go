package steps

import (
	"context"
	"strings"

	"github.com/petrijr/docflow/pkg/api"
)

// Dedup drops items whose content exactly matches an earlier item. With
// config "normalize" (default true) comparison ignores case and repeated
// whitespace.
type Dedup struct{}

func NewDedup() *Dedup { return &Dedup{} }

func (*Dedup) Type() string { return TypeDedup }

func (*Dedup) Execute(ctx context.Context, items []api.Item, sc api.StepContext) (api.StepResult, error) {
	normalize := sc.ConfigBool("normalize", true)

	seen := make(map[string]struct{}, len(items))
	out := make([]api.Item, 0, len(items))
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return api.StepResult{}, err
		}
		key := it.Content
		if normalize {
			key = strings.ToLower(strings.Join(tokens(key), " "))
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it.Clone())
	}

	return api.StepResult{
		Items:   out,
		Metrics: map[string]any{"duplicates": len(items) - len(out)},
	}, nil
}
