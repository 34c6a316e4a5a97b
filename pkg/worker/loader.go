package worker

import (
	"fmt"
	"log/slog"
)

// Candidate describes a handler the Loader may register. Build resolves the
// handler's dependencies from the container.
type Candidate struct {
	Name string
	// Registrable must be set for the loader to consider the candidate.
	Registrable bool
	// JobType overrides JobTypeOf on the built handler.
	JobType string
	Build   func(c *Container) (any, error)
}

// SkippedCandidate records why a candidate was not registered.
type SkippedCandidate struct {
	Name   string
	Reason string
}

// LoadReport summarises a Load call.
type LoadReport struct {
	Registered map[string]string // job type -> candidate name
	Skipped    []SkippedCandidate
	Ignored    []string
}

// Loader registers handlers from a candidate list at boot. A candidate that
// cannot be built is logged and skipped; its job type stays unregistered
// and its jobs fail with ErrHandlerNotFound.
type Loader struct {
	registry  *Registry
	container *Container
	logger    *slog.Logger
}

// NewLoader creates a loader that registers into registry.
func NewLoader(registry *Registry, container *Container, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{registry: registry, container: container, logger: logger}
}

// Load walks candidates in order.
func (l *Loader) Load(candidates []Candidate) LoadReport {
	report := LoadReport{Registered: make(map[string]string)}

	for _, c := range candidates {
		if !c.Registrable {
			report.Ignored = append(report.Ignored, c.Name)
			continue
		}

		jobType, err := l.loadOne(c)
		if err != nil {
			l.logger.Error("job handler not loaded",
				slog.String("candidate", c.Name),
				slog.Any("error", err),
			)
			report.Skipped = append(report.Skipped, SkippedCandidate{Name: c.Name, Reason: err.Error()})
			continue
		}
		report.Registered[jobType] = c.Name
		l.logger.Debug("job handler registered",
			slog.String("candidate", c.Name),
			slog.String("job_type", jobType),
		)
	}
	return report
}

func (l *Loader) loadOne(c Candidate) (jobType string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("build panicked: %v", r)
		}
	}()

	if c.Build == nil {
		return "", fmt.Errorf("no build function")
	}
	v, err := c.Build(l.container)
	if err != nil {
		return "", fmt.Errorf("resolve: %w", err)
	}
	h, ok := v.(Handler)
	if !ok {
		return "", fmt.Errorf("%T does not implement Process", v)
	}

	if c.JobType != "" {
		return c.JobType, l.registry.RegisterAs(c.JobType, h)
	}
	return l.registry.Register(h)
}
