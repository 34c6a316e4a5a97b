package persistence

import (
	"context"
	"errors"

	"github.com/petrijr/docflow/pkg/api"
)

var (
	// ErrDefinitionNotFound is returned when a definition id is unknown.
	ErrDefinitionNotFound = errors.New("definition not found")

	// ErrExecutionNotFound is returned when an execution id is unknown.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionExists is returned when creating an execution whose id is
	// already taken.
	ErrExecutionExists = errors.New("execution already exists")
)

// DefinitionStore holds pipeline and workflow definitions. Definitions are
// written through an administrative path and read by the executor.
type DefinitionStore interface {
	SaveDefinition(ctx context.Context, def api.Definition) error
	GetDefinition(ctx context.Context, id string) (api.Definition, error)
	ListDefinitions(ctx context.Context) ([]api.Definition, error)
}

// ExecutionFilter is used to select executions from the store.
// Empty fields mean "no filter" for that field.
type ExecutionFilter struct {
	DefinitionID string
	Status       api.ExecutionStatus
}

// ExecutionStore holds execution records. Only the executor writes them.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *api.Execution) error
	UpdateExecution(ctx context.Context, exec *api.Execution) error
	GetExecution(ctx context.Context, id string) (*api.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*api.Execution, error)
}

// OutputCache memoizes node outputs per execution. There is no time-based
// eviction; entries live until Invalidate is called for their execution.
// Implementations must be safe for concurrent writes to distinct keys.
type OutputCache interface {
	Get(ctx context.Context, key api.NodeOutputKey) (*api.NodeOutput, bool, error)
	Put(ctx context.Context, out api.NodeOutput) error
	Invalidate(ctx context.Context, executionID string) (int, error)
}
