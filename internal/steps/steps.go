// Package steps holds the built-in document processing steps. Steps drop
// or annotate individual items instead of failing a whole batch; an error
// return is reserved for problems that make the batch unprocessable.
package steps

import (
	"strings"

	"github.com/petrijr/docflow/internal/engine"
	"github.com/petrijr/docflow/pkg/api"
)

// Step type names.
const (
	TypeDedup        = "dedup"
	TypeRuleFilter   = "rule-filter"
	TypeSummarize    = "summarize"
	TypeEmbed        = "embed"
	TypeGraphExtract = "graph-extract"
)

// Defaults returns the built-in steps. The embed step uses a
// HashingEmbedder with DefaultDimensions.
func Defaults() []api.Step {
	return []api.Step{
		NewDedup(),
		NewRuleFilter(),
		NewSummarize(),
		NewEmbed(NewHashingEmbedder(DefaultDimensions)),
		NewGraphExtract(),
	}
}

// RegisterDefaults adds the built-in steps to reg.
func RegisterDefaults(reg *engine.StepRegistry) error {
	for _, s := range Defaults() {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	return nil
}

func tokens(s string) []string {
	return strings.Fields(s)
}

func annotate(it api.Item, key string, value any) api.Item {
	out := it.Clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]any)
	}
	out.Metadata[key] = value
	return out
}
