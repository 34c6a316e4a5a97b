package api

import "fmt"

// DefinitionKind distinguishes linear pipelines from DAG workflows.
type DefinitionKind string

const (
	KindPipeline DefinitionKind = "pipeline"
	KindWorkflow DefinitionKind = "workflow"
)

// NodeDefinition is a single step invocation inside a definition.
type NodeDefinition struct {
	ID        string         `json:"id" yaml:"id"`
	StepType  string         `json:"stepType" yaml:"step_type"`
	Config    map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	DependsOn []string       `json:"dependsOn,omitempty" yaml:"depends_on,omitempty"`
}

// Definition describes a pipeline or workflow. It is treated as immutable
// while an execution is running.
type Definition struct {
	ID       string         `json:"id" yaml:"id"`
	Name     string         `json:"name" yaml:"name"`
	Kind     DefinitionKind `json:"kind" yaml:"kind"`
	IsActive bool           `json:"isActive" yaml:"is_active"`

	Nodes []NodeDefinition `json:"nodes" yaml:"nodes"`

	// MaxConcurrency bounds how many independent nodes run at once.
	// Zero or one means sequential.
	MaxConcurrency int `json:"maxConcurrency,omitempty" yaml:"max_concurrency,omitempty"`
}

// Normalize fills in node ids and, for a pipeline whose nodes declare no
// dependencies at all, chains the nodes in list order.
func (d *Definition) Normalize() {
	if d.Kind == "" {
		d.Kind = KindPipeline
	}
	for i := range d.Nodes {
		if d.Nodes[i].ID == "" {
			d.Nodes[i].ID = fmt.Sprintf("%s-%d", d.Nodes[i].StepType, i+1)
		}
	}
	if d.Kind != KindPipeline {
		return
	}
	for _, n := range d.Nodes {
		if len(n.DependsOn) > 0 {
			return
		}
	}
	for i := 1; i < len(d.Nodes); i++ {
		d.Nodes[i].DependsOn = []string{d.Nodes[i-1].ID}
	}
}

// StepTypes returns the distinct step types referenced by the definition,
// in first-seen order.
func (d Definition) StepTypes() []string {
	seen := make(map[string]struct{}, len(d.Nodes))
	out := make([]string, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		if _, ok := seen[n.StepType]; ok {
			continue
		}
		seen[n.StepType] = struct{}{}
		out = append(out, n.StepType)
	}
	return out
}

// Node returns the node with the given id.
func (d Definition) Node(id string) (NodeDefinition, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeDefinition{}, false
}
