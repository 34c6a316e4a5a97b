package api

import (
	"context"
	"fmt"
	"strconv"
)

// Item is the unit that flows between steps, typically a document segment.
type Item struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// Clone returns a copy with its own Metadata map and Embedding slice.
func (it Item) Clone() Item {
	cp := it
	if it.Metadata != nil {
		cp.Metadata = make(map[string]any, len(it.Metadata))
		for k, v := range it.Metadata {
			cp.Metadata[k] = v
		}
	}
	if it.Embedding != nil {
		cp.Embedding = append([]float32(nil), it.Embedding...)
	}
	return cp
}

// CloneItems deep-copies a batch.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// StepContext is handed to every step invocation.
type StepContext struct {
	ExecutionID  string
	DefinitionID string
	NodeID       string
	DocumentID   string
	DatasetID    string
	UserID       string
	Metadata     map[string]any
	Config       map[string]any
}

// ConfigString returns a string config value or def.
func (sc StepContext) ConfigString(key, def string) string {
	if v, ok := sc.Config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return def
}

// ConfigInt returns an integer config value or def. Numbers decoded from
// JSON or YAML arrive as float64 or int and are both accepted.
func (sc StepContext) ConfigInt(key string, def int) int {
	v, ok := sc.Config[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

// ConfigBool returns a boolean config value or def.
func (sc StepContext) ConfigBool(key string, def bool) bool {
	v, ok := sc.Config[key]
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if p, err := strconv.ParseBool(b); err == nil {
			return p
		}
	}
	return def
}

// ConfigStrings returns a list-of-strings config value.
func (sc StepContext) ConfigStrings(key string) []string {
	v, ok := sc.Config[key]
	if !ok {
		return nil
	}
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, e := range l {
			out = append(out, fmt.Sprint(e))
		}
		return out
	case string:
		return []string{l}
	}
	return nil
}

// StepResult is what a step returns: the next item batch plus free-form
// step metrics.
type StepResult struct {
	Items   []Item         `json:"items"`
	Metrics map[string]any `json:"metrics,omitempty"`
}

// Step is a polymorphic transformation over an item batch. Implementations
// must be idempotent for a given input and should drop or annotate bad
// items rather than fail the whole batch.
type Step interface {
	Type() string
	Execute(ctx context.Context, items []Item, sc StepContext) (StepResult, error)
}

// StepFunc adapts a function to the execute half of Step.
type StepFunc func(ctx context.Context, items []Item, sc StepContext) (StepResult, error)

type namedStep struct {
	typ string
	fn  StepFunc
}

func (s namedStep) Type() string { return s.typ }

func (s namedStep) Execute(ctx context.Context, items []Item, sc StepContext) (StepResult, error) {
	return s.fn(ctx, items, sc)
}

// NamedStep builds a Step from a type name and a function.
func NamedStep(stepType string, fn StepFunc) Step {
	return namedStep{typ: stepType, fn: fn}
}
