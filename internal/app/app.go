// Package app assembles a docflow process. Build constructs every component
// without side effects between them; Wire then registers steps, handlers,
// definitions and bus subscribers. Registration happens only in Wire, so
// all tables are complete before Start begins consuming jobs.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/petrijr/docflow/internal/config"
	"github.com/petrijr/docflow/internal/engine"
	"github.com/petrijr/docflow/internal/jobs"
	"github.com/petrijr/docflow/internal/persistence"
	"github.com/petrijr/docflow/internal/steps"
	"github.com/petrijr/docflow/internal/taskqueue"
	"github.com/petrijr/docflow/pkg/api"
	"github.com/petrijr/docflow/pkg/dispatch"
	"github.com/petrijr/docflow/pkg/eventbus"
	"github.com/petrijr/docflow/pkg/notify"
	"github.com/petrijr/docflow/pkg/worker"
)

// App holds the wired components of one docflow process.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Store      persistence.Persistence
	Queue      taskqueue.Queue
	Bus        *eventbus.Bus
	Steps      *engine.StepRegistry
	Jobs       *worker.Registry
	Executor   *engine.Executor
	Dispatcher *dispatch.Dispatcher
	Worker     *worker.Worker
	Pool       *worker.Pool
	Cleaner    *dispatch.Cleaner
	Hub        *notify.Hub
	Metrics    *api.BasicMetrics

	// LoadReport is filled by Wire.
	LoadReport worker.LoadReport

	opts    options
	storage *storage
	lock    *flock.Flock
	wired   bool
	started bool
}

type options struct {
	steps       []api.Step
	candidates  []worker.Candidate
	definitions []api.Definition
	observers   []api.Observer
	lock        bool
	clock       func() time.Time
}

// Option customises Build.
type Option func(*options)

// WithSteps registers extra steps after the built-in ones. A step with a
// built-in type name replaces it.
func WithSteps(s ...api.Step) Option {
	return func(o *options) { o.steps = append(o.steps, s...) }
}

// WithCandidates adds job handler candidates to the built-in ones.
func WithCandidates(c ...worker.Candidate) Option {
	return func(o *options) { o.candidates = append(o.candidates, c...) }
}

// WithDefinitions seeds definitions in addition to the configured path.
func WithDefinitions(defs ...api.Definition) Option {
	return func(o *options) { o.definitions = append(o.definitions, defs...) }
}

// WithObserver adds an executor observer.
func WithObserver(obs api.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithDaemonLock makes Start take an exclusive lock in the data directory
// so only one process consumes the queue.
func WithDaemonLock() Option {
	return func(o *options) { o.lock = true }
}

// WithClock sets the time source for the queue, worker and executor.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// Build constructs every component. Nothing is registered yet.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, Metrics: &api.BasicMetrics{}}
	for _, opt := range opts {
		opt(&a.opts)
	}

	qopts := []taskqueue.Option{taskqueue.WithPollInterval(cfg.Queue.PollInterval())}
	if a.opts.clock != nil {
		qopts = append(qopts, taskqueue.WithClock(a.opts.clock))
	}
	st, err := openStorage(ctx, cfg.Storage, qopts)
	if err != nil {
		return nil, err
	}
	a.storage = st
	a.Store = st.persistence
	a.Queue = st.queue

	a.Bus = eventbus.New(eventbus.WithLogger(logger))
	a.Steps = engine.NewStepRegistry(logger)
	a.Jobs = worker.NewRegistry(logger)
	a.Hub = notify.NewHub(notify.WithClientBuffer(cfg.Server.ClientBuffer), notify.WithHubLogger(logger))

	observers := append([]api.Observer{api.NewLoggingObserver(logger), a.Metrics}, a.opts.observers...)
	a.Executor, err = engine.NewExecutor(engine.Config{
		Definitions:        a.Store.Definitions,
		Executions:         a.Store.Executions,
		Outputs:            a.Store.Outputs,
		Steps:              a.Steps,
		Events:             a.Bus,
		Observer:           api.NewCompositeObserver(observers...),
		Logger:             logger,
		MaxConcurrency:     cfg.Executor.MaxConcurrency,
		DisableFingerprint: cfg.Executor.DisableFingerprint,
		Clock:              a.opts.clock,
	})
	if err != nil {
		_ = st.close()
		return nil, err
	}

	dopts := []dispatch.DispatcherOption{
		dispatch.WithDefaults(cfg.Queue.DispatchDefaults()),
		dispatch.WithLogger(logger),
		dispatch.WithPrepare(jobs.StampExecutionID),
	}
	wopts := []worker.Option{worker.WithEvents(a.Bus), worker.WithLogger(logger)}
	copts := []dispatch.CleanerOption{
		dispatch.WithSchedule(cfg.Cleanup.Schedule),
		dispatch.WithCleanerLogger(logger),
	}
	if a.opts.clock != nil {
		dopts = append(dopts, dispatch.WithClock(a.opts.clock))
		wopts = append(wopts, worker.WithClock(a.opts.clock))
		copts = append(copts, dispatch.WithCleanerClock(a.opts.clock))
	}
	a.Dispatcher = dispatch.New(a.Queue, dopts...)
	a.Worker = worker.New(a.Queue, a.Jobs, wopts...)
	a.Pool = worker.NewPool(a.Worker, cfg.Queue.Concurrency, logger)
	a.Cleaner = dispatch.NewCleaner(a.Queue, cfg.Cleanup.Retention(), copts...)

	if a.opts.lock {
		a.lock = flock.New(cfg.LockPath())
	}
	return a, nil
}

// Wire fills the registries, seeds definitions and attaches bus
// subscribers. It fails when a seeded or previously stored definition
// references an unregistered step, or a built-in job type could not be
// loaded.
func (a *App) Wire(ctx context.Context) error {
	if a.wired {
		return errors.New("app: already wired")
	}

	if err := steps.RegisterDefaults(a.Steps); err != nil {
		return fmt.Errorf("register steps: %w", err)
	}
	for _, s := range a.opts.steps {
		if err := a.Steps.Register(s); err != nil {
			return fmt.Errorf("register step: %w", err)
		}
	}

	defs := append([]api.Definition(nil), a.opts.definitions...)
	if p := a.Config.Definitions.Path; p != "" {
		loaded, err := persistence.LoadDefinitions(p)
		if err != nil {
			return fmt.Errorf("load definitions: %w", err)
		}
		defs = append(defs, loaded...)
	}
	if err := engine.ValidateDefinitions(defs, a.Steps); err != nil {
		return err
	}
	if err := persistence.SeedDefinitions(ctx, a.Store.Definitions, defs); err != nil {
		return err
	}
	stored, err := a.Store.Definitions.ListDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("list definitions: %w", err)
	}
	if err := engine.ValidateDefinitions(stored, a.Steps); err != nil {
		return fmt.Errorf("stored definitions: %w", err)
	}

	container := worker.NewContainer()
	worker.Provide(container, a.Executor)
	worker.Provide(container, a.Dispatcher)
	worker.Provide(container, a.Logger)
	worker.Provide[taskqueue.Queue](container, a.Queue)
	worker.Provide(container, a.Bus)

	candidates := append(jobs.Candidates(), a.opts.candidates...)
	a.LoadReport = worker.NewLoader(a.Jobs, container, a.Logger).Load(candidates)
	if err := a.Jobs.Require(jobs.TypePipelineExecution, jobs.TypeDocumentIngest); err != nil {
		return err
	}

	a.Bus.SubscribeAll(persistence.NewHistoryRecorder(a.Store.Events, a.Logger).Handle)
	notify.NewRelay(a.Logger, a.Hub).Attach(a.Bus)

	a.wired = true
	a.Logger.Info("docflow wired",
		slog.Any("steps", a.Steps.Types()),
		slog.Any("job_types", a.Jobs.Types()),
		slog.Int("definitions", len(stored)),
	)
	return nil
}

// Start begins consuming jobs and schedules cleanup.
func (a *App) Start(ctx context.Context) error {
	if !a.wired {
		return errors.New("app: Start before Wire")
	}
	if a.started {
		return errors.New("app: already started")
	}
	if a.lock != nil {
		if err := os.MkdirAll(filepath.Dir(a.lock.Path()), 0o755); err != nil {
			return fmt.Errorf("create lock dir: %w", err)
		}
		ok, err := a.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return errors.New("another docflow instance is already running")
		}
	}
	if a.Config.Cleanup.Enabled {
		if err := a.Cleaner.Start(); err != nil {
			a.unlock()
			return err
		}
	}
	a.Pool.Start(ctx)
	a.started = true
	a.Logger.Info("docflow started", slog.Int("concurrency", a.Config.Queue.Concurrency))
	return nil
}

// Stop drains the worker pool, stops the cleaner and disconnects
// notification clients.
func (a *App) Stop(ctx context.Context) error {
	if !a.started {
		return nil
	}
	a.started = false

	var errs []error
	if err := a.Pool.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop pool: %w", err))
	}
	if a.Config.Cleanup.Enabled {
		if err := a.Cleaner.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop cleaner: %w", err))
		}
	}
	a.Hub.Close()
	a.unlock()
	a.Logger.Info("docflow stopped")
	return errors.Join(errs...)
}

func (a *App) unlock() {
	if a.lock == nil {
		return
	}
	if err := a.lock.Unlock(); err != nil {
		a.Logger.Warn("failed to release daemon lock", slog.Any("error", err))
	}
}

// Close releases storage connections. Call after Stop.
func (a *App) Close() error {
	if a.storage == nil {
		return nil
	}
	err := a.storage.close()
	a.storage = nil
	return err
}
