// Package jobs contains the queue handlers that drive document processing:
// ingesting a document into segments and running a pipeline over them.
package jobs

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/petrijr/docflow/internal/engine"
	"github.com/petrijr/docflow/pkg/dispatch"
	"github.com/petrijr/docflow/pkg/worker"
)

// Job type names. They match worker.JobTypeOf for the handler types below.
const (
	TypePipelineExecution = "pipeline-execution"
	TypeDocumentIngest    = "document-ingest"
)

// Candidates lists the handlers the worker loader registers at boot. Their
// dependencies are resolved from the container: *engine.Executor,
// *dispatch.Dispatcher and optionally *slog.Logger.
func Candidates() []worker.Candidate {
	return []worker.Candidate{
		{
			Name:        "PipelineExecutionJob",
			Registrable: true,
			Build: func(c *worker.Container) (any, error) {
				ex, err := worker.Resolve[*engine.Executor](c)
				if err != nil {
					return nil, err
				}
				return NewPipelineExecutionJob(ex, logger(c)), nil
			},
		},
		{
			Name:        "DocumentIngestJob",
			Registrable: true,
			Build: func(c *worker.Container) (any, error) {
				d, err := worker.Resolve[*dispatch.Dispatcher](c)
				if err != nil {
					return nil, err
				}
				return NewDocumentIngestJob(d, logger(c)), nil
			},
		},
	}
}

func logger(c *worker.Container) *slog.Logger {
	if l, err := worker.Resolve[*slog.Logger](c); err == nil && l != nil {
		return l
	}
	return slog.Default()
}

// decode converts loosely typed job data into v. Data read back from a
// persistent queue has been through JSON already, so both paths agree.
func decode(data map[string]any, v any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode job data: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode job data: %w", err)
	}
	return nil
}

// ToData converts a typed payload into job data.
func ToData(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
