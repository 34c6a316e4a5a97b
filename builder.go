package docflow

import (
	"context"
	"fmt"

	"github.com/petrijr/docflow/pkg/api"
)

// DefinitionBuilder provides a fluent API for pipeline and workflow
// definitions:
//
//	def := docflow.Pipeline("ingest").
//	    Step(docflow.StepDedup, nil).
//	    Step(docflow.StepEmbed, map[string]any{"batch_size": 16}).
//	    Definition()
//
//	wf := docflow.Workflow("enrich").
//	    Node("clean", docflow.StepDedup, nil).
//	    Node("sum", docflow.StepSummarize, nil, "clean").
//	    Node("graph", docflow.StepGraphExtract, nil, "clean").
//	    MaxConcurrency(2).
//	    Definition()
type DefinitionBuilder struct {
	def api.Definition
}

// Pipeline starts a pipeline definition. Steps run in the order added.
func Pipeline(id string) *DefinitionBuilder {
	return newBuilder(id, api.KindPipeline)
}

// Workflow starts a workflow definition. Nodes declare their own
// dependencies.
func Workflow(id string) *DefinitionBuilder {
	return newBuilder(id, api.KindWorkflow)
}

func newBuilder(id string, kind api.DefinitionKind) *DefinitionBuilder {
	if id == "" {
		panic("docflow: definition id must not be empty")
	}
	return &DefinitionBuilder{
		def: api.Definition{
			ID:       id,
			Name:     id,
			Kind:     kind,
			IsActive: true,
			Nodes:    make([]api.NodeDefinition, 0),
		},
	}
}

// ID returns the definition id.
func (b *DefinitionBuilder) ID() string {
	return b.def.ID
}

// Name sets a display name.
func (b *DefinitionBuilder) Name(name string) *DefinitionBuilder {
	b.def.Name = name
	return b
}

// Step appends a node whose id is derived from its step type and position.
func (b *DefinitionBuilder) Step(stepType string, config map[string]any) *DefinitionBuilder {
	return b.Node("", stepType, config)
}

// Node appends a node. dependsOn names nodes added earlier or later; the
// graph is checked when the definition is validated.
func (b *DefinitionBuilder) Node(id, stepType string, config map[string]any, dependsOn ...string) *DefinitionBuilder {
	if stepType == "" {
		panic(fmt.Sprintf("docflow: node %d of %q has no step type", len(b.def.Nodes)+1, b.def.ID))
	}
	b.def.Nodes = append(b.def.Nodes, api.NodeDefinition{
		ID:        id,
		StepType:  stepType,
		Config:    cloneConfig(config),
		DependsOn: append([]string(nil), dependsOn...),
	})
	return b
}

// MaxConcurrency bounds how many independent nodes run at once.
func (b *DefinitionBuilder) MaxConcurrency(n int) *DefinitionBuilder {
	b.def.MaxConcurrency = n
	return b
}

// Inactive marks the definition as not runnable.
func (b *DefinitionBuilder) Inactive() *DefinitionBuilder {
	b.def.IsActive = false
	return b
}

// Definition returns the normalized definition. Each call returns an
// independent copy.
func (b *DefinitionBuilder) Definition() Definition {
	def := b.def
	def.Nodes = make([]api.NodeDefinition, len(b.def.Nodes))
	for i, n := range b.def.Nodes {
		n.Config = cloneConfig(n.Config)
		n.DependsOn = append([]string(nil), n.DependsOn...)
		def.Nodes[i] = n
	}
	def.Normalize()
	return def
}

// Register seeds the definition into the runner's definition store.
func (b *DefinitionBuilder) Register(ctx context.Context, r *LocalRunner) error {
	return r.RegisterDefinition(ctx, b.Definition())
}

// MustRegister is like Register but panics on error.
func (b *DefinitionBuilder) MustRegister(ctx context.Context, r *LocalRunner) {
	if err := b.Register(ctx, r); err != nil {
		panic(err)
	}
}

func cloneConfig(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
