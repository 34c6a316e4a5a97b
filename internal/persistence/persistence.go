package persistence

import (
	"database/sql"
	"fmt"
)

// Persistence bundles the store interfaces so the executor
// can depend on a single abstraction.
type Persistence struct {
	Definitions DefinitionStore
	Executions  ExecutionStore
	Events      EventStore
	Outputs     OutputCache
}

// NewInMemory returns a Persistence backed entirely by process memory.
func NewInMemory() Persistence {
	store := NewInMemoryStore()
	return Persistence{
		Definitions: store,
		Executions:  store,
		Events:      store,
		Outputs:     NewInMemoryOutputCache(),
	}
}

// NewSQLite returns a Persistence whose stores share one SQLite database.
func NewSQLite(db *sql.DB) (Persistence, error) {
	defs, err := NewSQLiteDefinitionStore(db)
	if err != nil {
		return Persistence{}, fmt.Errorf("definition store: %w", err)
	}
	execs, err := NewSQLiteExecutionStore(db)
	if err != nil {
		return Persistence{}, fmt.Errorf("execution store: %w", err)
	}
	events, err := NewSQLiteEventStore(db)
	if err != nil {
		return Persistence{}, fmt.Errorf("event store: %w", err)
	}
	outputs, err := NewSQLiteOutputCache(db)
	if err != nil {
		return Persistence{}, fmt.Errorf("output cache: %w", err)
	}
	return Persistence{
		Definitions: defs,
		Executions:  execs,
		Events:      events,
		Outputs:     outputs,
	}, nil
}
