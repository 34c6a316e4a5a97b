package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/petrijr/docflow/internal/persistence"
	"github.com/petrijr/docflow/pkg/api"
)

// Publisher is the slice of the event bus the executor needs.
type Publisher interface {
	Publish(ctx context.Context, evt api.Event) error
}

// Config describes how to construct an Executor.
type Config struct {
	Definitions persistence.DefinitionStore
	Executions  persistence.ExecutionStore
	Outputs     persistence.OutputCache
	Steps       *StepRegistry

	Events   Publisher
	Observer api.Observer
	Logger   *slog.Logger

	// MaxConcurrency applies to workflows whose definition leaves
	// MaxConcurrency unset. Values below 1 mean 1.
	MaxConcurrency int

	// DisableFingerprint keys cache entries by (execution, node) only.
	DisableFingerprint bool

	Clock func() time.Time
}

// Request asks the executor to run one definition over a batch of items.
type Request struct {
	DefinitionID string
	// ExecutionID is optional. Re-using the id of a finished execution starts
	// a follow-up run that shares its node output cache.
	ExecutionID string

	Items      []api.Item
	DocumentID string
	DatasetID  string
	UserID     string
	Metadata   map[string]any
}

// Result is the outcome of Execute. Execution is set whenever the run got
// past definition loading, even when err != nil.
type Result struct {
	Execution *api.Execution
	Items     []api.Item
}

// Executor runs pipeline and workflow definitions. It is the only writer
// of Execution records and node outputs.
type Executor struct {
	defs    persistence.DefinitionStore
	execs   persistence.ExecutionStore
	outputs persistence.OutputCache
	steps   *StepRegistry

	events   Publisher
	observer api.Observer
	logger   *slog.Logger

	maxConcurrency int
	fingerprint    bool
	now            func() time.Time

	mu      sync.Mutex
	running map[string]*atomic.Bool
}

// NewExecutor validates cfg and returns an Executor. Outputs defaults to an
// in-memory cache.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Definitions == nil || cfg.Executions == nil {
		return nil, errors.New("executor: definition and execution stores are required")
	}
	if cfg.Steps == nil {
		return nil, errors.New("executor: step registry is required")
	}

	e := &Executor{
		defs:           cfg.Definitions,
		execs:          cfg.Executions,
		outputs:        cfg.Outputs,
		steps:          cfg.Steps,
		events:         cfg.Events,
		observer:       cfg.Observer,
		logger:         cfg.Logger,
		maxConcurrency: cfg.MaxConcurrency,
		fingerprint:    !cfg.DisableFingerprint,
		now:            cfg.Clock,
		running:        make(map[string]*atomic.Bool),
	}
	if e.outputs == nil {
		e.outputs = persistence.NewInMemoryOutputCache()
	}
	if e.observer == nil {
		e.observer = api.NoopObserver{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.maxConcurrency < 1 {
		e.maxConcurrency = 1
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// GetExecution returns a stored execution.
func (e *Executor) GetExecution(ctx context.Context, id string) (*api.Execution, error) {
	return e.execs.GetExecution(ctx, id)
}

// Cancel asks a running execution to stop before its next node. It reports
// whether an execution with that id was running. Nodes already executing
// are not interrupted.
func (e *Executor) Cancel(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	flag, ok := e.running[executionID]
	if ok {
		flag.Store(true)
	}
	return ok
}

func (e *Executor) track(ids ...string) (*atomic.Bool, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		if _, busy := e.running[id]; busy {
			return nil, nil, fmt.Errorf("%w: %s", ErrExecutionInProgress, id)
		}
	}
	flag := new(atomic.Bool)
	for _, id := range ids {
		e.running[id] = flag
	}
	return flag, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for _, id := range ids {
			delete(e.running, id)
		}
	}, nil
}

// Execute runs the requested definition to completion, failure or
// cancellation. Definition problems are returned before any execution record
// changes state.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	def, err := e.defs.GetDefinition(ctx, req.DefinitionID)
	if err != nil {
		if errors.Is(err, persistence.ErrDefinitionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, req.DefinitionID)
		}
		return nil, err
	}
	if !def.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionInactive, def.ID)
	}
	def.Normalize()

	plan, err := BuildPlan(def)
	if err != nil {
		return nil, err
	}
	if err := checkSteps(def, e.steps); err != nil {
		return nil, err
	}

	requested := req.ExecutionID
	if requested == "" {
		requested = uuid.NewString()
	}
	cancelled, release, err := e.track(requested)
	if err != nil {
		return nil, err
	}
	defer release()

	exec, err := e.prepare(ctx, requested, def, req)
	if err != nil {
		return nil, err
	}
	if exec.ID != requested {
		// Follow-up run: make the new id cancellable too.
		e.mu.Lock()
		e.running[exec.ID] = cancelled
		e.mu.Unlock()
		defer func() {
			e.mu.Lock()
			delete(e.running, exec.ID)
			e.mu.Unlock()
		}()
	}

	return e.run(ctx, def, plan, exec, req, cancelled)
}

// prepare loads or creates the pending execution record for id.
func (e *Executor) prepare(ctx context.Context, id string, def api.Definition, req Request) (*api.Execution, error) {
	existing, err := e.execs.GetExecution(ctx, id)
	switch {
	case errors.Is(err, persistence.ErrExecutionNotFound):
		existing = nil
	case err != nil:
		return nil, err
	}

	if existing != nil {
		switch {
		case existing.Status == api.ExecutionPending:
			return existing, nil
		case existing.Status == api.ExecutionRunning:
			return nil, fmt.Errorf("%w: %s", ErrExecutionInProgress, id)
		}
	}

	exec := &api.Execution{
		ID:           id,
		DefinitionID: def.ID,
		DocumentID:   req.DocumentID,
		DatasetID:    req.DatasetID,
		UserID:       req.UserID,
		Status:       api.ExecutionPending,
		CreatedAt:    e.now(),
	}
	if existing != nil {
		// Terminal: statuses never regress, so retry under a new id that
		// shares the original cache scope.
		exec.ID = uuid.NewString()
		exec.RetryOf = existing.CacheScope()
	}

	if err := e.execs.CreateExecution(ctx, exec); err != nil {
		if errors.Is(err, persistence.ErrExecutionExists) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionInProgress, exec.ID)
		}
		return nil, err
	}
	return exec, nil
}

type nodeResult struct {
	items   []api.Item
	metrics api.NodeMetrics
}

func (e *Executor) run(ctx context.Context, def api.Definition, plan *Plan, exec *api.Execution, req Request, cancelled *atomic.Bool) (*Result, error) {
	// Bookkeeping must survive the caller's context being cancelled.
	bctx := context.WithoutCancel(ctx)
	start := e.now()

	if err := exec.Transition(api.ExecutionRunning, start); err != nil {
		return nil, err
	}
	if err := e.execs.UpdateExecution(bctx, exec); err != nil {
		return nil, err
	}
	e.observer.OnExecutionStart(ctx, exec)
	e.publish(bctx, api.EventExecutionStarted, e.executionPayload(exec, req))

	limit := 1
	if !plan.Sequential {
		limit = def.MaxConcurrency
		if limit <= 0 {
			limit = e.maxConcurrency
		}
	}

	var (
		mu      sync.Mutex
		results = make(map[string]nodeResult, plan.Len())
		runErr  error
	)

	inputFor := func(node api.NodeDefinition) []api.Item {
		if len(node.DependsOn) == 0 {
			return api.CloneItems(req.Items)
		}
		mu.Lock()
		defer mu.Unlock()
		var in []api.Item
		for _, dep := range node.DependsOn {
			in = append(in, api.CloneItems(results[dep].items)...)
		}
		return in
	}

	stopped := func() bool { return cancelled.Load() || ctx.Err() != nil }

levels:
	for _, level := range plan.Levels {
		if stopped() {
			break
		}

		if limit <= 1 || len(level) == 1 {
			for _, node := range level {
				if stopped() {
					break levels
				}
				res, err := e.runNode(ctx, exec, req, node, inputFor(node))
				if err != nil {
					runErr = err
					break levels
				}
				results[node.ID] = res
			}
			continue
		}

		var (
			g      errgroup.Group
			failed atomic.Bool
		)
		g.SetLimit(limit)
		for _, node := range level {
			g.Go(func() error {
				if failed.Load() || stopped() {
					return nil
				}
				res, err := e.runNode(ctx, exec, req, node, inputFor(node))
				if err != nil {
					failed.Store(true)
					return err
				}
				mu.Lock()
				results[node.ID] = res
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			runErr = err
			break
		}
	}

	end := e.now()
	exec.Metrics = e.collectMetrics(plan, results, end.Sub(start))

	switch {
	case runErr != nil:
		return e.finishFailed(bctx, exec, req, runErr, end)
	case cancelled.Load():
		return e.finishCancelled(bctx, exec, req, end)
	case ctx.Err() != nil:
		return e.finishFailed(bctx, exec, req, ctx.Err(), end)
	}

	var final []api.Item
	for _, id := range plan.Sinks {
		final = append(final, results[id].items...)
	}
	if final == nil {
		final = []api.Item{}
	}
	exec.Metrics.ItemsProcessed = len(final)

	if err := exec.Transition(api.ExecutionCompleted, end); err != nil {
		return nil, err
	}
	if err := e.execs.UpdateExecution(bctx, exec); err != nil {
		return &Result{Execution: exec.Clone(), Items: final}, err
	}
	e.observer.OnExecutionCompleted(ctx, exec)
	e.publish(bctx, api.EventExecutionCompleted, e.executionPayload(exec, req))

	return &Result{Execution: exec.Clone(), Items: final}, nil
}

func (e *Executor) runNode(ctx context.Context, exec *api.Execution, req Request, node api.NodeDefinition, input []api.Item) (nodeResult, error) {
	e.observer.OnNodeStart(ctx, exec, node.ID, node.StepType)
	bctx := context.WithoutCancel(ctx)
	start := e.now()

	key := api.NodeOutputKey{ExecutionID: exec.CacheScope(), NodeID: node.ID}
	if e.fingerprint {
		fp, err := Fingerprint(node, input)
		if err != nil {
			e.logger.WarnContext(ctx, "fingerprint failed, caching by node id only",
				slog.String("execution_id", exec.ID),
				slog.String("node_id", node.ID),
				slog.Any("error", err),
			)
		}
		key.Fingerprint = fp
	}

	metrics := api.NodeMetrics{NodeID: node.ID, StepType: node.StepType, ItemsIn: len(input)}

	cached, hit, err := e.outputs.Get(ctx, key)
	if err != nil {
		e.logger.WarnContext(ctx, "output cache lookup failed, treating as miss",
			slog.String("execution_id", exec.ID),
			slog.String("node_id", node.ID),
			slog.Any("error", err),
		)
		hit = false
	}
	if hit {
		metrics.ItemsOut = len(cached.Items)
		metrics.Cached = true
		metrics.StepStats = cached.Metrics
		metrics.Duration = e.now().Sub(start)
		e.observer.OnNodeCompleted(ctx, exec, node.ID, node.StepType, true, nil, metrics.Duration)
		e.publish(bctx, api.EventStepCompleted, e.stepPayload(exec, req, metrics, ""))
		return nodeResult{items: cached.Items, metrics: metrics}, nil
	}

	step, ok := e.steps.Get(node.StepType)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrStepNotRegistered, node.StepType)
		return nodeResult{}, &StepError{NodeID: node.ID, StepType: node.StepType, Err: err}
	}

	sc := api.StepContext{
		ExecutionID:  exec.ID,
		DefinitionID: exec.DefinitionID,
		NodeID:       node.ID,
		DocumentID:   req.DocumentID,
		DatasetID:    req.DatasetID,
		UserID:       req.UserID,
		Metadata:     req.Metadata,
		Config:       node.Config,
	}
	out, err := step.Execute(ctx, input, sc)
	metrics.Duration = e.now().Sub(start)
	if err != nil {
		e.observer.OnNodeCompleted(ctx, exec, node.ID, node.StepType, false, err, metrics.Duration)
		e.publish(bctx, api.EventStepFailed, e.stepPayload(exec, req, metrics, err.Error()))
		return nodeResult{}, &StepError{NodeID: node.ID, StepType: node.StepType, Err: err}
	}

	items := out.Items
	if items == nil {
		items = []api.Item{}
	}
	metrics.ItemsOut = len(items)
	metrics.StepStats = out.Metrics

	if err := e.outputs.Put(bctx, api.NodeOutput{
		NodeOutputKey: key,
		Items:         items,
		Metrics:       out.Metrics,
		ComputedAt:    e.now(),
	}); err != nil {
		e.logger.WarnContext(ctx, "output cache write failed",
			slog.String("execution_id", exec.ID),
			slog.String("node_id", node.ID),
			slog.Any("error", err),
		)
	}

	e.observer.OnNodeCompleted(ctx, exec, node.ID, node.StepType, false, nil, metrics.Duration)
	e.publish(bctx, api.EventStepCompleted, e.stepPayload(exec, req, metrics, ""))
	return nodeResult{items: items, metrics: metrics}, nil
}

func (e *Executor) collectMetrics(plan *Plan, results map[string]nodeResult, total time.Duration) api.ExecutionMetrics {
	m := api.ExecutionMetrics{TotalDuration: total}
	for _, level := range plan.Levels {
		for _, node := range level {
			res, ok := results[node.ID]
			if !ok {
				continue
			}
			m.NodesProcessed++
			if res.metrics.Cached {
				m.CacheHits++
			}
			m.Nodes = append(m.Nodes, res.metrics)
		}
	}
	return m
}

func (e *Executor) finishFailed(ctx context.Context, exec *api.Execution, req Request, cause error, at time.Time) (*Result, error) {
	msg := cause.Error()
	var se *StepError
	if errors.As(cause, &se) {
		msg = se.Err.Error()
	}
	exec.Error = msg
	if err := exec.Transition(api.ExecutionFailed, at); err != nil {
		return nil, err
	}
	if err := e.execs.UpdateExecution(ctx, exec); err != nil {
		e.logger.ErrorContext(ctx, "failed to persist failed execution",
			slog.String("execution_id", exec.ID),
			slog.Any("error", err),
		)
	}
	e.observer.OnExecutionFailed(ctx, exec, cause)
	e.publish(ctx, api.EventExecutionFailed, e.executionPayload(exec, req))
	return &Result{Execution: exec.Clone()}, cause
}

func (e *Executor) finishCancelled(ctx context.Context, exec *api.Execution, req Request, at time.Time) (*Result, error) {
	exec.Error = ErrExecutionCancelled.Error()
	if err := exec.Transition(api.ExecutionCancelled, at); err != nil {
		return nil, err
	}
	if err := e.execs.UpdateExecution(ctx, exec); err != nil {
		e.logger.ErrorContext(ctx, "failed to persist cancelled execution",
			slog.String("execution_id", exec.ID),
			slog.Any("error", err),
		)
	}
	e.observer.OnExecutionFailed(ctx, exec, ErrExecutionCancelled)
	e.publish(ctx, api.EventExecutionCancelled, e.executionPayload(exec, req))
	return &Result{Execution: exec.Clone()}, ErrExecutionCancelled
}

func (e *Executor) executionPayload(exec *api.Execution, req Request) api.ExecutionEventPayload {
	p := api.ExecutionEventPayload{
		ExecutionID:  exec.ID,
		DefinitionID: exec.DefinitionID,
		DocumentID:   exec.DocumentID,
		DatasetID:    exec.DatasetID,
		UserID:       exec.UserID,
		Metadata:     req.Metadata,
		Status:       exec.Status,
		Error:        exec.Error,
	}
	if exec.Status.Terminal() {
		m := exec.Metrics
		p.Metrics = &m
	}
	return p
}

func (e *Executor) stepPayload(exec *api.Execution, req Request, m api.NodeMetrics, errMsg string) api.StepEventPayload {
	return api.StepEventPayload{
		ExecutionID:  exec.ID,
		DefinitionID: exec.DefinitionID,
		DocumentID:   exec.DocumentID,
		Metadata:     req.Metadata,
		NodeID:       m.NodeID,
		StepType:     m.StepType,
		ItemsIn:      m.ItemsIn,
		ItemsOut:     m.ItemsOut,
		Cached:       m.Cached,
		Duration:     m.Duration,
		Error:        errMsg,
	}
}

// publish sends evt on the bus. The bus is fail-fast, so a subscriber error
// is logged here and never changes the execution outcome.
func (e *Executor) publish(ctx context.Context, t api.EventType, payload any) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, api.NewEvent(t, payload)); err != nil {
		e.logger.WarnContext(ctx, "event subscriber failed",
			slog.String("event_type", string(t)),
			slog.Any("error", err),
		)
	}
}
