package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/petrijr/docflow/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe implementation of
// DefinitionStore, ExecutionStore and EventStore backed by maps.
type InMemoryStore struct {
	mu          sync.RWMutex
	definitions map[string]api.Definition
	executions  map[string]*api.Execution
	order       []string
	events      map[string][]api.ExecutionEvent
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		definitions: make(map[string]api.Definition),
		executions:  make(map[string]*api.Execution),
		events:      make(map[string][]api.ExecutionEvent),
	}
}

// Ensure InMemoryStore implements the interfaces.
var (
	_ DefinitionStore = (*InMemoryStore)(nil)
	_ ExecutionStore  = (*InMemoryStore)(nil)
	_ EventStore      = (*InMemoryStore)(nil)
)

func (s *InMemoryStore) SaveDefinition(ctx context.Context, def api.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.definitions[def.ID] = def
	return nil
}

func (s *InMemoryStore) GetDefinition(ctx context.Context, id string) (api.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.definitions[id]
	if !ok {
		return api.Definition{}, ErrDefinitionNotFound
	}
	return def, nil
}

func (s *InMemoryStore) ListDefinitions(ctx context.Context) ([]api.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]api.Definition, 0, len(s.definitions))
	for _, d := range s.definitions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) CreateExecution(ctx context.Context, exec *api.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[exec.ID]; ok {
		return ErrExecutionExists
	}
	s.executions[exec.ID] = exec.Clone()
	s.order = append(s.order, exec.ID)
	return nil
}

func (s *InMemoryStore) UpdateExecution(ctx context.Context, exec *api.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[exec.ID]; !ok {
		return ErrExecutionNotFound
	}
	s.executions[exec.ID] = exec.Clone()
	return nil
}

func (s *InMemoryStore) GetExecution(ctx context.Context, id string) (*api.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return exec.Clone(), nil
}

func (s *InMemoryStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*api.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.Execution
	for _, id := range s.order {
		exec := s.executions[id]
		if filter.DefinitionID != "" && exec.DefinitionID != filter.DefinitionID {
			continue
		}
		if filter.Status != "" && exec.Status != filter.Status {
			continue
		}
		out = append(out, exec.Clone())
	}
	return out, nil
}

func (s *InMemoryStore) AppendEvent(ctx context.Context, ev api.ExecutionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[ev.ExecutionID] = append(s.events[ev.ExecutionID], ev)
	return nil
}

func (s *InMemoryStore) ListEvents(ctx context.Context, executionID string) ([]api.ExecutionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evs := s.events[executionID]
	out := make([]api.ExecutionEvent, len(evs))
	copy(out, evs)
	return out, nil
}
