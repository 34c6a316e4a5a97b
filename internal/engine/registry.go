package engine

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/petrijr/docflow/pkg/api"
)

// StepRegistry maps step type names to implementations. It is filled at
// boot and read by the executor afterwards.
type StepRegistry struct {
	mu     sync.RWMutex
	steps  map[string]api.Step
	logger *slog.Logger
}

// NewStepRegistry creates an empty registry. A nil logger means
// slog.Default().
func NewStepRegistry(logger *slog.Logger) *StepRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepRegistry{
		steps:  make(map[string]api.Step),
		logger: logger,
	}
}

// Register adds step under step.Type(). The last registration for a type
// wins and the overwrite is logged.
func (r *StepRegistry) Register(step api.Step) error {
	if step == nil {
		return errors.New("step is nil")
	}
	t := step.Type()
	if t == "" {
		return errors.New("step type is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.steps[t]; exists {
		r.logger.Warn("step type re-registered, replacing previous implementation",
			slog.String("step_type", t),
		)
	}
	r.steps[t] = step
	return nil
}

// Get returns the step registered for stepType.
func (r *StepRegistry) Get(stepType string) (api.Step, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.steps[stepType]
	return s, ok
}

// Types returns the registered step types sorted by name.
func (r *StepRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.steps))
	for t := range r.steps {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
