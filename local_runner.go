package docflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/petrijr/docflow/internal/app"
	"github.com/petrijr/docflow/internal/config"
	"github.com/petrijr/docflow/internal/engine"
	"github.com/petrijr/docflow/internal/jobs"
	"github.com/petrijr/docflow/internal/logging"
	"github.com/petrijr/docflow/pkg/api"
	"github.com/petrijr/docflow/pkg/dispatch"
	"github.com/petrijr/docflow/pkg/notify"
	"github.com/petrijr/docflow/pkg/worker"
)

// LocalRunner bundles the queue, job handlers, executor and notification
// fan-out in one process for development, tests and simple single-process
// deployments. By default every store is in memory.
//
// Typical usage:
//
//	runner, err := docflow.NewLocalRunner(ctx,
//	    docflow.WithDefinitions(docflow.Pipeline("ingest").Step(docflow.StepDedup, nil).Definition()),
//	)
//	if err != nil { ... }
//	defer runner.Close(ctx)
//
//	_, _ = runner.IngestDocument(ctx, "doc-1", "ingest", text)
//	exec, err := runner.WaitForDocument(ctx, "doc-1")
type LocalRunner struct {
	app *app.App

	// Notifications records every lifecycle notification published while
	// the runner is open.
	Notifications *notify.Collector

	mu     sync.Mutex
	closed bool
}

type runnerOptions struct {
	configPath  string
	sqlitePath  string
	concurrency int
	logger      *slog.Logger
	appOpts     []app.Option
	history     int
}

// RunnerOption customises NewLocalRunner.
type RunnerOption func(*runnerOptions)

// WithConfigFile loads configuration from a TOML file instead of using the
// in-memory defaults.
func WithConfigFile(path string) RunnerOption {
	return func(o *runnerOptions) { o.configPath = path }
}

// WithSQLite persists definitions, executions, node outputs and the queue
// in one SQLite database.
func WithSQLite(path string) RunnerOption {
	return func(o *runnerOptions) { o.sqlitePath = path }
}

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) RunnerOption {
	return func(o *runnerOptions) { o.concurrency = n }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(o *runnerOptions) { o.logger = l }
}

// WithDefinitions seeds definitions at startup.
func WithDefinitions(defs ...Definition) RunnerOption {
	return func(o *runnerOptions) { o.appOpts = append(o.appOpts, app.WithDefinitions(defs...)) }
}

// WithSteps registers custom steps next to the built-in ones.
func WithSteps(s ...Step) RunnerOption {
	return func(o *runnerOptions) { o.appOpts = append(o.appOpts, app.WithSteps(s...)) }
}

// WithJobHandlers offers extra job handler candidates to the loader.
func WithJobHandlers(c ...worker.Candidate) RunnerOption {
	return func(o *runnerOptions) { o.appOpts = append(o.appOpts, app.WithCandidates(c...)) }
}

// WithObserver adds an executor observer.
func WithObserver(obs Observer) RunnerOption {
	return func(o *runnerOptions) { o.appOpts = append(o.appOpts, app.WithObserver(obs)) }
}

// WithNotificationHistory bounds how many notifications the runner keeps.
func WithNotificationHistory(n int) RunnerOption {
	return func(o *runnerOptions) { o.history = n }
}

// NewLocalRunner builds, wires and starts a runner. Close releases it.
func NewLocalRunner(ctx context.Context, opts ...RunnerOption) (*LocalRunner, error) {
	var o runnerOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := config.Memory()
	if o.configPath != "" {
		loaded, _, _, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if o.sqlitePath != "" {
		cfg.Storage.Backend = config.BackendSQLite
		cfg.Storage.Queue = config.BackendSQLite
		cfg.Storage.Cache = config.BackendSQLite
		cfg.Storage.SQLitePath = o.sqlitePath
	}
	if o.concurrency > 0 {
		cfg.Queue.Concurrency = o.concurrency
	}
	logger := o.logger
	if logger == nil {
		logger = logging.Discard()
	}

	a, err := app.Build(ctx, cfg, logger, o.appOpts...)
	if err != nil {
		return nil, err
	}
	if err := a.Wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	r := &LocalRunner{app: a, Notifications: notify.NewCollector(notify.Filter{}, o.history)}
	notify.NewRelay(logger, r.Notifications).Attach(a.Bus)

	if err := a.Start(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return r, nil
}

// Close drains the workers and releases storage. It is safe to call more
// than once.
func (r *LocalRunner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	return errors.Join(r.app.Stop(ctx), r.app.Close())
}

// RegisterDefinition validates def against the registered steps and saves
// it.
func (r *LocalRunner) RegisterDefinition(ctx context.Context, def Definition) error {
	if err := engine.ValidateDefinitions([]api.Definition{def}, r.app.Steps); err != nil {
		return err
	}
	return r.app.Store.Definitions.SaveDefinition(ctx, def)
}

// Dispatch enqueues a job.
func (r *LocalRunner) Dispatch(ctx context.Context, jobType string, data map[string]any, opts ...DispatchOption) (*Job, error) {
	return r.app.Dispatcher.Dispatch(ctx, jobType, data, opts...)
}

// IngestDocument enqueues a document-ingest job that segments content and
// runs definitionID over the segments.
func (r *LocalRunner) IngestDocument(ctx context.Context, documentID, definitionID, content string, opts ...DispatchOption) (*Job, error) {
	data, err := jobs.ToData(jobs.DocumentIngestData{
		DocumentID:   documentID,
		DefinitionID: definitionID,
		Content:      content,
	})
	if err != nil {
		return nil, err
	}
	return r.Dispatch(ctx, jobs.TypeDocumentIngest, data, opts...)
}

// Execute runs definitionID over items synchronously, bypassing the queue.
// The execution is returned whenever it was created, even on error.
func (r *LocalRunner) Execute(ctx context.Context, definitionID string, items []Item) (*Execution, []Item, error) {
	res, err := r.app.Executor.Execute(ctx, engine.Request{DefinitionID: definitionID, Items: items})
	if res == nil {
		return nil, nil, err
	}
	return res.Execution, res.Items, err
}

// Execution returns a stored execution.
func (r *LocalRunner) Execution(ctx context.Context, id string) (*Execution, error) {
	return r.app.Executor.GetExecution(ctx, id)
}

// History returns the recorded lifecycle events of an execution.
func (r *LocalRunner) History(ctx context.Context, executionID string) ([]api.ExecutionEvent, error) {
	return r.app.Store.Events.ListEvents(ctx, executionID)
}

// Job returns a queued job.
func (r *LocalRunner) Job(ctx context.Context, id string) (*Job, error) {
	return r.app.Dispatcher.GetJob(ctx, id)
}

// Stats returns job counts per state.
func (r *LocalRunner) Stats(ctx context.Context) (QueueStats, error) {
	return r.app.Dispatcher.Stats(ctx)
}

// Metrics returns executor counters.
func (r *LocalRunner) Metrics() BasicMetricsSnapshot {
	return r.app.Metrics.Snapshot()
}

// Cancel stops a running execution before its next node and removes any
// queued jobs for it. It reports whether the execution was running.
func (r *LocalRunner) Cancel(ctx context.Context, executionID string) (bool, int, error) {
	running := r.app.Executor.Cancel(executionID)
	removed, err := r.app.Dispatcher.CancelByCorrelation(ctx, api.FieldExecutionID, executionID)
	return running, removed, err
}

// CancelDocument removes every pending job correlated with documentID.
func (r *LocalRunner) CancelDocument(ctx context.Context, documentID string) (int, error) {
	return r.app.Dispatcher.CancelByCorrelation(ctx, api.FieldDocumentID, documentID)
}

// Retry moves a failed job back to waiting.
func (r *LocalRunner) Retry(ctx context.Context, jobID string) error {
	return r.app.Dispatcher.Requeue(ctx, jobID)
}

// Cleanup applies the configured retention policy once.
func (r *LocalRunner) Cleanup(ctx context.Context) (dispatch.CleanupReport, error) {
	return r.app.Cleaner.RunOnce(ctx)
}

// WaitForExecution blocks until executionID reaches a terminal status and
// returns the stored execution.
func (r *LocalRunner) WaitForExecution(ctx context.Context, executionID string) (*Execution, error) {
	return r.waitTerminal(ctx, api.FieldExecutionID, executionID)
}

// WaitForDocument blocks until an execution for documentID reaches a
// terminal status and returns it.
func (r *LocalRunner) WaitForDocument(ctx context.Context, documentID string) (*Execution, error) {
	return r.waitTerminal(ctx, api.FieldDocumentID, documentID)
}

func (r *LocalRunner) waitTerminal(ctx context.Context, field, value string) (*Execution, error) {
	msg, err := r.Notifications.WaitFor(ctx, func(m api.NotificationMessage) bool {
		if m.Field(field) != value {
			return false
		}
		switch m.Type {
		case api.NotifyPipelineCompleted, api.NotifyPipelineFailed, api.NotifyPipelineCancelled:
			return true
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("wait for %s=%s: %w", field, value, err)
	}
	return r.Execution(ctx, msg.Field(api.FieldExecutionID))
}
