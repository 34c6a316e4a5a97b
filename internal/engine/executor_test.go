package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/docflow/internal/persistence"
	"github.com/petrijr/docflow/pkg/api"
	"github.com/petrijr/docflow/pkg/eventbus"
)

// statusRecorder wraps an ExecutionStore and remembers every status written
// per execution.
type statusRecorder struct {
	persistence.ExecutionStore

	mu      sync.Mutex
	history map[string][]api.ExecutionStatus
}

func newStatusRecorder(inner persistence.ExecutionStore) *statusRecorder {
	return &statusRecorder{ExecutionStore: inner, history: make(map[string][]api.ExecutionStatus)}
}

func (r *statusRecorder) CreateExecution(ctx context.Context, exec *api.Execution) error {
	r.record(exec)
	return r.ExecutionStore.CreateExecution(ctx, exec)
}

func (r *statusRecorder) UpdateExecution(ctx context.Context, exec *api.Execution) error {
	r.record(exec)
	return r.ExecutionStore.UpdateExecution(ctx, exec)
}

func (r *statusRecorder) record(exec *api.Execution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[exec.ID] = append(r.history[exec.ID], exec.Status)
}

func (r *statusRecorder) statuses(id string) []api.ExecutionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.ExecutionStatus(nil), r.history[id]...)
}

type eventLog struct {
	mu     sync.Mutex
	events []api.Event
}

func (l *eventLog) handle(ctx context.Context, evt api.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
	return nil
}

func (l *eventLog) count(t api.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (l *eventLog) types() []api.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]api.EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

// countingStep counts invocations and delegates to fn.
type countingStep struct {
	typ   string
	calls atomic.Int32
	fn    api.StepFunc
}

func (s *countingStep) Type() string { return s.typ }

func (s *countingStep) Execute(ctx context.Context, items []api.Item, sc api.StepContext) (api.StepResult, error) {
	s.calls.Add(1)
	if s.fn == nil {
		return api.StepResult{Items: items}, nil
	}
	return s.fn(ctx, items, sc)
}

type harness struct {
	exec    *Executor
	store   *persistence.InMemoryStore
	status  *statusRecorder
	cache   *persistence.InMemoryOutputCache
	steps   *StepRegistry
	events  *eventLog
	metrics *api.BasicMetrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := persistence.NewInMemoryStore()
	h := &harness{
		store:   store,
		status:  newStatusRecorder(store),
		cache:   persistence.NewInMemoryOutputCache(),
		steps:   NewStepRegistry(nil),
		events:  &eventLog{},
		metrics: &api.BasicMetrics{},
	}

	bus := eventbus.New()
	bus.SubscribeAll(h.events.handle)

	exec, err := NewExecutor(Config{
		Definitions:    store,
		Executions:     h.status,
		Outputs:        h.cache,
		Steps:          h.steps,
		Events:         bus,
		Observer:       h.metrics,
		MaxConcurrency: 4,
	})
	if err != nil {
		t.Fatalf("NewExecutor failed: %v", err)
	}
	h.exec = exec
	return h
}

func (h *harness) define(t *testing.T, def api.Definition) {
	t.Helper()
	if err := h.store.SaveDefinition(context.Background(), def); err != nil {
		t.Fatalf("SaveDefinition failed: %v", err)
	}
}

func (h *harness) register(t *testing.T, steps ...api.Step) {
	t.Helper()
	for _, s := range steps {
		if err := h.steps.Register(s); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
}

func segments(contents ...string) []api.Item {
	out := make([]api.Item, len(contents))
	for i, c := range contents {
		out[i] = api.Item{ID: fmt.Sprintf("seg-%d", i+1), Content: c}
	}
	return out
}

func linearPipeline(id string, stepTypes ...string) api.Definition {
	def := api.Definition{ID: id, Name: id, Kind: api.KindPipeline, IsActive: true}
	for _, st := range stepTypes {
		def.Nodes = append(def.Nodes, api.NodeDefinition{StepType: st})
	}
	return def
}

func TestExecutor_CompletesLinearPipeline(t *testing.T) {
	h := newHarness(t)
	upper := &countingStep{typ: "upper", fn: func(ctx context.Context, items []api.Item, sc api.StepContext) (api.StepResult, error) {
		for i := range items {
			items[i].Content = strings.ToUpper(items[i].Content)
		}
		return api.StepResult{Items: items, Metrics: map[string]any{"changed": len(items)}}, nil
	}}
	dropFirst := &countingStep{typ: "drop-first", fn: func(ctx context.Context, items []api.Item, sc api.StepContext) (api.StepResult, error) {
		if sc.DocumentID != "doc-1" || sc.NodeID != "drop-first-2" {
			return api.StepResult{}, fmt.Errorf("unexpected context %+v", sc)
		}
		return api.StepResult{Items: items[1:]}, nil
	}}
	h.register(t, upper, dropFirst)
	h.define(t, linearPipeline("p1", "upper", "drop-first"))

	res, err := h.exec.Execute(context.Background(), Request{
		DefinitionID: "p1",
		ExecutionID:  "exec-1",
		DocumentID:   "doc-1",
		Items:        segments("a", "b", "c"),
	})
	require.NoError(t, err)

	assert.Equal(t, api.ExecutionCompleted, res.Execution.Status)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "B", res.Items[0].Content)
	assert.Equal(t, 2, res.Execution.Metrics.NodesProcessed)
	assert.Equal(t, 2, res.Execution.Metrics.ItemsProcessed)
	assert.Equal(t, 0, res.Execution.Metrics.CacheHits)
	assert.NotNil(t, res.Execution.StartedAt)
	assert.NotNil(t, res.Execution.CompletedAt)

	assert.Equal(t,
		[]api.ExecutionStatus{api.ExecutionPending, api.ExecutionRunning, api.ExecutionCompleted},
		h.status.statuses("exec-1"))
	assert.Equal(t, []api.EventType{
		api.EventExecutionStarted,
		api.EventStepCompleted,
		api.EventStepCompleted,
		api.EventExecutionCompleted,
	}, h.events.types())

	stored, err := h.exec.GetExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, api.ExecutionCompleted, stored.Status)

	snap := h.metrics.Snapshot()
	assert.Equal(t, int64(1), snap.ExecutionsCompleted)
	assert.Equal(t, int64(2), snap.NodesCompleted)
}

func TestExecutor_RerunServesFromCache(t *testing.T) {
	h := newHarness(t)
	step := &countingStep{typ: "echo"}
	h.register(t, step)
	h.define(t, linearPipeline("p1", "echo"))

	req := Request{DefinitionID: "p1", ExecutionID: "exec-1", Items: segments("x", "y")}

	first, err := h.exec.Execute(context.Background(), req)
	require.NoError(t, err)
	second, err := h.exec.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), step.calls.Load(), "second run must hit the cache")
	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, "exec-1", second.Execution.RetryOf)
	assert.NotEqual(t, "exec-1", second.Execution.ID)
	assert.Equal(t, 1, second.Execution.Metrics.CacheHits)

	// The original record never regresses.
	assert.Equal(t,
		[]api.ExecutionStatus{api.ExecutionPending, api.ExecutionRunning, api.ExecutionCompleted},
		h.status.statuses("exec-1"))
}

func TestExecutor_ChangedInputMissesCache(t *testing.T) {
	h := newHarness(t)
	step := &countingStep{typ: "echo"}
	h.register(t, step)
	h.define(t, linearPipeline("p1", "echo"))

	_, err := h.exec.Execute(context.Background(), Request{DefinitionID: "p1", ExecutionID: "e", Items: segments("x")})
	require.NoError(t, err)
	_, err = h.exec.Execute(context.Background(), Request{DefinitionID: "p1", ExecutionID: "e", Items: segments("changed")})
	require.NoError(t, err)

	assert.Equal(t, int32(2), step.calls.Load())
}

func TestExecutor_StepFailureKeepsEarlierOutputs(t *testing.T) {
	h := newHarness(t)
	first := &countingStep{typ: "first"}
	second := &countingStep{typ: "second"}
	broken := true
	last := &countingStep{typ: "last", fn: func(ctx context.Context, items []api.Item, sc api.StepContext) (api.StepResult, error) {
		if broken {
			return api.StepResult{}, errors.New("model unavailable")
		}
		return api.StepResult{Items: items}, nil
	}}
	h.register(t, first, second, last)
	h.define(t, linearPipeline("p1", "first", "second", "last"))

	req := Request{DefinitionID: "p1", ExecutionID: "exec-f", Items: segments("a", "b")}
	res, err := h.exec.Execute(context.Background(), req)
	require.Error(t, err)

	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "last-3", se.NodeID)

	assert.Equal(t, api.ExecutionFailed, res.Execution.Status)
	assert.Equal(t, "model unavailable", res.Execution.Error)
	assert.NotNil(t, res.Execution.CompletedAt)
	assert.Equal(t, 2, h.cache.Len("exec-f"), "outputs of nodes before the failure stay cached")
	assert.Equal(t, 1, h.events.count(api.EventExecutionFailed))
	assert.Equal(t, 1, h.events.count(api.EventStepFailed))
	assert.Equal(t,
		[]api.ExecutionStatus{api.ExecutionPending, api.ExecutionRunning, api.ExecutionFailed},
		h.status.statuses("exec-f"))

	// Retrying the same execution id skips the cached nodes.
	broken = false
	retry, err := h.exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, api.ExecutionCompleted, retry.Execution.Status)
	assert.Equal(t, int32(1), first.calls.Load())
	assert.Equal(t, int32(1), second.calls.Load())
	assert.Equal(t, int32(2), last.calls.Load())
	assert.Equal(t, 2, retry.Execution.Metrics.CacheHits)
}

func TestExecutor_ConfigErrorsBeforeStart(t *testing.T) {
	h := newHarness(t)
	h.register(t, &countingStep{typ: "echo"})

	inactive := linearPipeline("off", "echo")
	inactive.IsActive = false
	h.define(t, inactive)

	cyclic := api.Definition{ID: "loop", IsActive: true, Kind: api.KindWorkflow, Nodes: []api.NodeDefinition{
		{ID: "a", StepType: "echo", DependsOn: []string{"b"}},
		{ID: "b", StepType: "echo", DependsOn: []string{"a"}},
	}}
	h.define(t, cyclic)
	h.define(t, linearPipeline("unknown-step", "echo", "ocr"))

	cases := map[string]error{
		"missing":      ErrDefinitionNotFound,
		"off":          ErrDefinitionInactive,
		"loop":         ErrCycleDetected,
		"unknown-step": ErrStepNotRegistered,
	}
	for defID, want := range cases {
		_, err := h.exec.Execute(context.Background(), Request{DefinitionID: defID, ExecutionID: "x-" + defID})
		if !errors.Is(err, want) {
			t.Fatalf("%s: expected %v, got %v", defID, want, err)
		}
		assert.True(t, IsConfigError(err))
		assert.Empty(t, h.status.statuses("x-"+defID), "no execution record for %s", defID)
	}
	assert.Empty(t, h.events.types())
}

func TestExecutor_EmptyBatchFlowsDownstream(t *testing.T) {
	h := newHarness(t)
	dropAll := &countingStep{typ: "drop-all", fn: func(ctx context.Context, items []api.Item, sc api.StepContext) (api.StepResult, error) {
		return api.StepResult{}, nil
	}}
	var seen atomic.Int32
	seen.Store(-1)
	after := &countingStep{typ: "after", fn: func(ctx context.Context, items []api.Item, sc api.StepContext) (api.StepResult, error) {
		seen.Store(int32(len(items)))
		return api.StepResult{Items: items}, nil
	}}
	h.register(t, dropAll, after)
	h.define(t, linearPipeline("p", "drop-all", "after"))

	res, err := h.exec.Execute(context.Background(), Request{DefinitionID: "p", Items: segments("a", "b")})
	require.NoError(t, err)
	assert.Equal(t, api.ExecutionCompleted, res.Execution.Status)
	assert.Equal(t, int32(0), seen.Load(), "downstream step is invoked with zero items")
	assert.Empty(t, res.Items)
	assert.Equal(t, 0, res.Execution.Metrics.ItemsProcessed)
}

func TestExecutor_WorkflowRunsIndependentNodesConcurrently(t *testing.T) {
	h := newHarness(t)

	var inFlight, peak atomic.Int32
	gate := make(chan struct{})
	slow := func(tag string) *countingStep {
		return &countingStep{typ: tag, fn: func(ctx context.Context, items []api.Item, sc api.StepContext) (api.StepResult, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-gate
			inFlight.Add(-1)
			out := api.CloneItems(items)
			for i := range out {
				out[i].Content += "/" + tag
			}
			return api.StepResult{Items: out}, nil
		}}
	}
	h.register(t, &countingStep{typ: "src"}, slow("left"), slow("right"), &countingStep{typ: "join"})
	h.define(t, api.Definition{ID: "w", IsActive: true, Kind: api.KindWorkflow, MaxConcurrency: 2, Nodes: []api.NodeDefinition{
		{ID: "src", StepType: "src"},
		{ID: "left", StepType: "left", DependsOn: []string{"src"}},
		{ID: "right", StepType: "right", DependsOn: []string{"src"}},
		{ID: "join", StepType: "join", DependsOn: []string{"left", "right"}},
	}})

	go func() {
		// Release both branches once they are running side by side.
		for peak.Load() < 2 {
			time.Sleep(time.Millisecond)
		}
		close(gate)
	}()

	res, err := h.exec.Execute(context.Background(), Request{DefinitionID: "w", Items: segments("doc")})
	require.NoError(t, err)
	assert.Equal(t, int32(2), peak.Load())
	require.Len(t, res.Items, 2)
	// Join input follows DependsOn order.
	assert.Equal(t, "doc/left", res.Items[0].Content)
	assert.Equal(t, "doc/right", res.Items[1].Content)
	assert.Equal(t, 4, res.Execution.Metrics.NodesProcessed)
}

func TestExecutor_CancelStopsAtNextNode(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	blocking := &countingStep{typ: "blocking", fn: func(ctx context.Context, items []api.Item, sc api.StepContext) (api.StepResult, error) {
		close(started)
		<-release
		return api.StepResult{Items: items}, nil
	}}
	never := &countingStep{typ: "never"}
	h.register(t, blocking, never)
	h.define(t, linearPipeline("p", "blocking", "never"))

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.exec.Execute(context.Background(), Request{DefinitionID: "p", ExecutionID: "exec-c", Items: segments("a")})
		done <- outcome{res, err}
	}()

	<-started
	assert.False(t, h.exec.Cancel("unknown"))
	assert.True(t, h.exec.Cancel("exec-c"))
	close(release)

	out := <-done
	require.ErrorIs(t, out.err, ErrExecutionCancelled)
	assert.Equal(t, api.ExecutionCancelled, out.res.Execution.Status)
	assert.Equal(t, int32(0), never.calls.Load())
	assert.Equal(t, 1, h.events.count(api.EventExecutionCancelled))
	assert.Equal(t,
		[]api.ExecutionStatus{api.ExecutionPending, api.ExecutionRunning, api.ExecutionCancelled},
		h.status.statuses("exec-c"))
	// The finished node's output is still cached.
	assert.Equal(t, 1, h.cache.Len("exec-c"))
}

func TestExecutor_RejectsConcurrentRunOfSameID(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	h.register(t, &countingStep{typ: "blocking", fn: func(ctx context.Context, items []api.Item, sc api.StepContext) (api.StepResult, error) {
		close(started)
		<-release
		return api.StepResult{Items: items}, nil
	}})
	h.define(t, linearPipeline("p", "blocking"))

	done := make(chan error, 1)
	go func() {
		_, err := h.exec.Execute(context.Background(), Request{DefinitionID: "p", ExecutionID: "same"})
		done <- err
	}()
	<-started

	_, err := h.exec.Execute(context.Background(), Request{DefinitionID: "p", ExecutionID: "same"})
	assert.ErrorIs(t, err, ErrExecutionInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestExecutor_SubscriberErrorDoesNotFailExecution(t *testing.T) {
	store := persistence.NewInMemoryStore()
	steps := NewStepRegistry(nil)
	require.NoError(t, steps.Register(&countingStep{typ: "echo"}))
	require.NoError(t, store.SaveDefinition(context.Background(), linearPipeline("p", "echo")))

	bus := eventbus.New()
	bus.Subscribe(api.EventExecutionStarted, func(ctx context.Context, evt api.Event) error {
		return errors.New("listener down")
	})

	exec, err := NewExecutor(Config{Definitions: store, Executions: store, Steps: steps, Events: bus})
	require.NoError(t, err)

	res, err := exec.Execute(context.Background(), Request{DefinitionID: "p"})
	require.NoError(t, err)
	assert.Equal(t, api.ExecutionCompleted, res.Execution.Status)
}
