package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the executor for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay execution.
type Observer interface {
	// OnExecutionStart is called once the execution has moved to running,
	// before any node runs.
	OnExecutionStart(ctx context.Context, exec *Execution)

	// OnExecutionCompleted is called when an execution reaches completed.
	OnExecutionCompleted(ctx context.Context, exec *Execution)

	// OnExecutionFailed is called when an execution reaches failed or
	// cancelled.
	OnExecutionFailed(ctx context.Context, exec *Execution, err error)

	// OnNodeStart is called before a node is looked up in the cache.
	OnNodeStart(ctx context.Context, exec *Execution, nodeID, stepType string)

	// OnNodeCompleted is called after a node finishes, for cache hits,
	// successes and failures (err != nil).
	OnNodeCompleted(ctx context.Context, exec *Execution, nodeID, stepType string, cached bool, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnExecutionStart(ctx context.Context, exec *Execution) {}
func (NoopObserver) OnExecutionCompleted(ctx context.Context, exec *Execution) {}
func (NoopObserver) OnExecutionFailed(ctx context.Context, exec *Execution, err error) {}
func (NoopObserver) OnNodeStart(ctx context.Context, exec *Execution, nodeID, stepType string) {}
func (NoopObserver) OnNodeCompleted(ctx context.Context, exec *Execution, nodeID, stepType string, cached bool, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnExecutionStart(ctx context.Context, exec *Execution) {
	for _, o := range c.observers {
		o.OnExecutionStart(ctx, exec)
	}
}

func (c *CompositeObserver) OnExecutionCompleted(ctx context.Context, exec *Execution) {
	for _, o := range c.observers {
		o.OnExecutionCompleted(ctx, exec)
	}
}

func (c *CompositeObserver) OnExecutionFailed(ctx context.Context, exec *Execution, err error) {
	for _, o := range c.observers {
		o.OnExecutionFailed(ctx, exec, err)
	}
}

func (c *CompositeObserver) OnNodeStart(ctx context.Context, exec *Execution, nodeID, stepType string) {
	for _, o := range c.observers {
		o.OnNodeStart(ctx, exec, nodeID, stepType)
	}
}

func (c *CompositeObserver) OnNodeCompleted(ctx context.Context, exec *Execution, nodeID, stepType string, cached bool, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnNodeCompleted(ctx, exec, nodeID, stepType, cached, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs execution / node lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnExecutionStart(ctx context.Context, exec *Execution) {
	o.Logger.InfoContext(ctx, "execution_start",
		slog.String("definition_id", exec.DefinitionID),
		slog.String("execution_id", exec.ID),
	)
}

func (o *LoggingObserver) OnExecutionCompleted(ctx context.Context, exec *Execution) {
	o.Logger.InfoContext(ctx, "execution_completed",
		slog.String("definition_id", exec.DefinitionID),
		slog.String("execution_id", exec.ID),
		slog.Int("nodes_processed", exec.Metrics.NodesProcessed),
		slog.Int("items_processed", exec.Metrics.ItemsProcessed),
		slog.Duration("duration", exec.Metrics.TotalDuration),
	)
}

func (o *LoggingObserver) OnExecutionFailed(ctx context.Context, exec *Execution, err error) {
	o.Logger.ErrorContext(ctx, "execution_failed",
		slog.String("definition_id", exec.DefinitionID),
		slog.String("execution_id", exec.ID),
		slog.String("status", string(exec.Status)),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnNodeStart(ctx context.Context, exec *Execution, nodeID, stepType string) {
	o.Logger.DebugContext(ctx, "node_start",
		slog.String("execution_id", exec.ID),
		slog.String("node_id", nodeID),
		slog.String("step_type", stepType),
	)
}

func (o *LoggingObserver) OnNodeCompleted(ctx context.Context, exec *Execution, nodeID, stepType string, cached bool, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "node_completed",
		slog.String("execution_id", exec.ID),
		slog.String("node_id", nodeID),
		slog.String("step_type", stepType),
		slog.Bool("cached", cached),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate node durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	executionsStarted   atomic.Int64
	executionsCompleted atomic.Int64
	executionsFailed    atomic.Int64
	nodesCompleted      atomic.Int64
	cacheHits           atomic.Int64
	totalNodeDuration   atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	ExecutionsStarted   int64
	ExecutionsCompleted int64
	ExecutionsFailed    int64
	RunningExecutions   int64

	NodesCompleted  int64
	CacheHits       int64
	AvgNodeDuration time.Duration
}

func (m *BasicMetrics) OnExecutionStart(ctx context.Context, exec *Execution) {
	m.executionsStarted.Add(1)
}

func (m *BasicMetrics) OnExecutionCompleted(ctx context.Context, exec *Execution) {
	m.executionsCompleted.Add(1)
}

func (m *BasicMetrics) OnExecutionFailed(ctx context.Context, exec *Execution, err error) {
	m.executionsFailed.Add(1)
}

func (m *BasicMetrics) OnNodeCompleted(ctx context.Context, exec *Execution, nodeID, stepType string, cached bool, err error, d time.Duration) {
	if err != nil {
		return
	}
	if cached {
		m.cacheHits.Add(1)
		return
	}
	// Only executed nodes count towards the average duration.
	m.nodesCompleted.Add(1)
	m.totalNodeDuration.Add(d.Nanoseconds())
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.executionsStarted.Load()
	completed := m.executionsCompleted.Load()
	failed := m.executionsFailed.Load()
	nodes := m.nodesCompleted.Load()
	totalNs := m.totalNodeDuration.Load()

	var avg time.Duration
	if nodes > 0 {
		avg = time.Duration(totalNs / nodes)
	}

	return BasicMetricsSnapshot{
		ExecutionsStarted:   started,
		ExecutionsCompleted: completed,
		ExecutionsFailed:    failed,
		RunningExecutions:   started - completed - failed,
		NodesCompleted:      nodes,
		CacheHits:           m.cacheHits.Load(),
		AvgNodeDuration:     avg,
	}
}
