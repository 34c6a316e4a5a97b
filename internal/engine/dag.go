package engine

import (
	"fmt"
	"strings"

	"github.com/petrijr/docflow/pkg/api"
)

// Plan is the execution order derived from a definition's DependsOn edges.
// Levels[i] holds nodes whose dependencies all sit in earlier levels, in
// definition order.
type Plan struct {
	Levels [][]api.NodeDefinition

	// Sinks are the nodes nothing depends on, in definition order. Their
	// outputs form the execution's final item set.
	Sinks []string

	// Sequential is true for pipelines and for graphs that are a single
	// chain; such plans never run nodes concurrently.
	Sequential bool
}

// Len returns the number of nodes in the plan.
func (p *Plan) Len() int {
	n := 0
	for _, l := range p.Levels {
		n += len(l)
	}
	return n
}

// BuildPlan validates the dependency graph and groups nodes into
// topological levels (Kahn's algorithm). Graph problems are reported as
// *GraphError.
func BuildPlan(def api.Definition) (*Plan, error) {
	graphErr := func(kind error, format string, args ...any) error {
		return &GraphError{DefinitionID: def.ID, Kind: kind, Msg: fmt.Sprintf(format, args...)}
	}

	if len(def.Nodes) == 0 {
		return nil, graphErr(ErrInvalidGraph, "no nodes")
	}

	index := make(map[string]int, len(def.Nodes))
	for i, n := range def.Nodes {
		if n.ID == "" {
			return nil, graphErr(ErrInvalidGraph, "node %d has no id", i)
		}
		if n.StepType == "" {
			return nil, graphErr(ErrInvalidGraph, "node %s has no step type", n.ID)
		}
		if _, dup := index[n.ID]; dup {
			return nil, graphErr(ErrInvalidGraph, "duplicate node id %q", n.ID)
		}
		index[n.ID] = i
	}

	indeg := make([]int, len(def.Nodes))
	dependents := make([][]int, len(def.Nodes))
	for i, n := range def.Nodes {
		seen := make(map[string]struct{}, len(n.DependsOn))
		for _, dep := range n.DependsOn {
			if dep == n.ID {
				return nil, graphErr(ErrCycleDetected, "node %s depends on itself", n.ID)
			}
			j, ok := index[dep]
			if !ok {
				return nil, graphErr(ErrInvalidGraph, "node %s depends on unknown node %q", n.ID, dep)
			}
			if _, dup := seen[dep]; dup {
				continue
			}
			seen[dep] = struct{}{}
			indeg[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	plan := &Plan{}
	var current []int
	for i := range def.Nodes {
		if indeg[i] == 0 {
			current = append(current, i)
		}
	}

	placed := 0
	for len(current) > 0 {
		level := make([]api.NodeDefinition, 0, len(current))
		ready := make([]bool, len(def.Nodes))
		for _, i := range current {
			level = append(level, def.Nodes[i])
			placed++
			for _, d := range dependents[i] {
				indeg[d]--
				if indeg[d] == 0 {
					ready[d] = true
				}
			}
		}
		plan.Levels = append(plan.Levels, level)

		// Next level in definition order.
		current = current[:0]
		for i, ok := range ready {
			if ok {
				current = append(current, i)
			}
		}
	}

	if placed != len(def.Nodes) {
		var stuck []string
		for i, n := range def.Nodes {
			if indeg[i] > 0 {
				stuck = append(stuck, n.ID)
			}
		}
		return nil, graphErr(ErrCycleDetected, "unresolvable nodes [%s]", strings.Join(stuck, ", "))
	}

	for i, n := range def.Nodes {
		if len(dependents[i]) == 0 {
			plan.Sinks = append(plan.Sinks, n.ID)
		}
	}

	plan.Sequential = def.Kind == api.KindPipeline || len(plan.Levels) == len(def.Nodes)
	return plan, nil
}
