package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/petrijr/docflow/pkg/api"
)

// Handler processes one job. A returned error makes the worker retry the
// job according to its options, unless the error is Permanent.
type Handler interface {
	Process(ctx context.Context, job *api.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *api.Job) error

func (f HandlerFunc) Process(ctx context.Context, job *api.Job) error { return f(ctx, job) }

// Typed is implemented by handlers that declare their job type explicitly.
type Typed interface {
	JobType() string
}

// JobTypeOf returns the job type h is registered under: JobType() when h
// implements Typed, otherwise its type name in kebab case with a trailing
// "Job" or "Handler" removed (*PipelineExecutionJob -> pipeline-execution).
func JobTypeOf(h any) string {
	if t, ok := h.(Typed); ok {
		return t.JobType()
	}
	rt := reflect.TypeOf(h)
	for rt != nil && rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt == nil || rt.Name() == "" {
		return ""
	}
	name := rt.Name()
	for _, suffix := range []string{"Job", "Handler"} {
		if trimmed := strings.TrimSuffix(name, suffix); trimmed != "" && trimmed != name {
			name = trimmed
			break
		}
	}
	return kebab(name)
}

func kebab(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			// Break before an upper-case rune that starts a new word:
			// "PDFIngest" -> "pdf-ingest".
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Registry maps job types to handlers. It is built during bootstrap and
// injected into the worker.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger means slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register adds h under JobTypeOf(h) and returns that type.
func (r *Registry) Register(h Handler) (string, error) {
	jobType := JobTypeOf(h)
	if jobType == "" {
		return "", fmt.Errorf("cannot derive job type for %T", h)
	}
	return jobType, r.RegisterAs(jobType, h)
}

// RegisterAs adds h under an explicit job type. Replacing an existing
// handler is allowed and logged.
func (r *Registry) RegisterAs(jobType string, h Handler) error {
	if jobType == "" {
		return errors.New("job type is required")
	}
	if h == nil {
		return errors.New("handler is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobType]; exists {
		r.logger.Warn("job handler re-registered, replacing previous handler",
			slog.String("job_type", jobType),
		)
	}
	r.handlers[jobType] = h
	return nil
}

// Get returns the handler for jobType.
func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// All returns a copy of the handler table.
func (r *Registry) All() map[string]Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Handler, len(r.handlers))
	for k, v := range r.handlers {
		out[k] = v
	}
	return out
}

// Types returns the registered job types sorted by name.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Require fails when any of jobTypes has no handler. Call it at boot so a
// missing handler stops the process instead of failing jobs later.
func (r *Registry) Require(jobTypes ...string) error {
	var missing []string
	for _, t := range jobTypes {
		if _, ok := r.Get(t); !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrHandlerNotFound, strings.Join(missing, ", "))
	}
	return nil
}
