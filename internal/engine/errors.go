package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrDefinitionNotFound is returned when Execute names an unknown definition.
	ErrDefinitionNotFound = errors.New("definition not found")

	// ErrDefinitionInactive is returned for definitions with IsActive=false.
	ErrDefinitionInactive = errors.New("definition is inactive")

	// ErrInvalidGraph covers duplicate node ids, empty ids and unknown
	// dependencies.
	ErrInvalidGraph = errors.New("invalid definition graph")

	// ErrCycleDetected is returned when the dependency graph is not a DAG.
	ErrCycleDetected = errors.New("dependency cycle detected")

	// ErrStepNotRegistered is returned when a node references a step type
	// missing from the StepRegistry.
	ErrStepNotRegistered = errors.New("step type not registered")

	// ErrExecutionInProgress is returned when an execution id is already
	// running.
	ErrExecutionInProgress = errors.New("execution already in progress")

	// ErrExecutionCancelled is returned by Execute when Cancel stopped the run.
	ErrExecutionCancelled = errors.New("execution cancelled")
)

// GraphError describes why a definition cannot be planned. Kind is one of
// ErrInvalidGraph or ErrCycleDetected.
type GraphError struct {
	DefinitionID string
	Kind         error
	Msg          string
}

func (e *GraphError) Error() string {
	if e.DefinitionID == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("definition %s: %v: %s", e.DefinitionID, e.Kind, e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

// StepError wraps the error returned by a step implementation.
type StepError struct {
	NodeID   string
	StepType string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("node %s (%s): %v", e.NodeID, e.StepType, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// IsConfigError reports whether err stems from a broken or missing
// definition. Such errors are not worth retrying.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound) ||
		errors.Is(err, ErrDefinitionInactive) ||
		errors.Is(err, ErrInvalidGraph) ||
		errors.Is(err, ErrCycleDetected) ||
		errors.Is(err, ErrStepNotRegistered)
}
