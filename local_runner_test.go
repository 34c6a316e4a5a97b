package docflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/docflow/pkg/api"
)

func ingestPipeline() Definition {
	return Pipeline("ingest").
		Step(StepDedup, nil).
		Step(StepRuleFilter, map[string]any{"min_tokens": 3}).
		Step(StepEmbed, map[string]any{"batch_size": 4}).
		Definition()
}

func newTestRunner(t *testing.T, opts ...RunnerOption) *LocalRunner {
	t.Helper()
	opts = append([]RunnerOption{WithDefinitions(ingestPipeline())}, opts...)
	runner, err := NewLocalRunner(context.Background(), opts...)
	if err != nil {
		t.Fatalf("NewLocalRunner failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := runner.Close(ctx); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return runner
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// tenSegments has two duplicates (one differing only in case and spacing)
// and one segment too short for the rule filter.
func tenSegments() string {
	paras := []string{
		"Apples grow on trees in orchards.",
		"Bananas are harvested while still green.",
		"apples grow  on trees in orchards.",
		"Cherries ripen early in the summer.",
		"Too short",
		"Dates come from palm trees in deserts.",
		"Bananas are harvested while still green.",
		"Elderberries are often made into syrup.",
		"Figs were cultivated in ancient times.",
		"Grapes are pressed to make wine.",
	}
	return strings.Join(paras, "\n\n")
}

func TestLocalRunner_DocumentIngestEndToEnd(t *testing.T) {
	ctx := waitCtx(t)
	runner := newTestRunner(t, WithConcurrency(2))

	_, err := runner.IngestDocument(ctx, "doc-42", "ingest", tenSegments())
	require.NoError(t, err)

	exec, err := runner.WaitForDocument(ctx, "doc-42")
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, exec.Status)
	assert.Equal(t, "doc-42", exec.DocumentID)
	assert.Equal(t, 3, exec.Metrics.NodesProcessed)
	assert.Equal(t, 7, exec.Metrics.ItemsProcessed)

	require.Len(t, exec.Metrics.Nodes, 3)
	counts := make(map[string][2]int)
	for _, n := range exec.Metrics.Nodes {
		counts[n.StepType] = [2]int{n.ItemsIn, n.ItemsOut}
	}
	assert.Equal(t, [2]int{10, 8}, counts[StepDedup])
	assert.Equal(t, [2]int{8, 7}, counts[StepRuleFilter])
	assert.Equal(t, [2]int{7, 7}, counts[StepEmbed])

	msgs := runner.Notifications.Snapshot()
	var started, steps, completed int
	for _, m := range msgs {
		switch m.Type {
		case api.NotifyPipelineStarted:
			started++
		case api.NotifyStepCompleted:
			steps++
		case api.NotifyPipelineCompleted:
			completed++
		}
	}
	assert.Equal(t, 1, started)
	assert.Equal(t, 3, steps)
	assert.Equal(t, 1, completed)

	require.Eventually(t, func() bool {
		stats, err := runner.Stats(ctx)
		return err == nil && stats.Completed == 2
	}, 2*time.Second, 10*time.Millisecond)

	snap := runner.Metrics()
	assert.Equal(t, int64(1), snap.ExecutionsCompleted)
	assert.Equal(t, int64(3), snap.NodesCompleted)
}

func TestLocalRunner_StepFailureFailsFastAndRetryResumesFromCache(t *testing.T) {
	ctx := waitCtx(t)

	var calls atomic.Int32
	flakyEmbed := NamedStep(StepEmbed, func(ctx context.Context, items []Item, sc StepContext) (StepResult, error) {
		if calls.Add(1) == 1 {
			return StepResult{}, errors.New("embedding service unavailable")
		}
		return StepResult{Items: items}, nil
	})
	runner := newTestRunner(t, WithSteps(flakyEmbed))

	items := make([]Item, 0, 10)
	for i := 0; i < 10; i++ {
		items = append(items, Item{ID: fmt.Sprintf("seg-%d", i), Content: fmt.Sprintf("segment number %d has words", i)})
	}
	job, err := runner.Dispatch(ctx, JobTypePipelineExecution, map[string]any{
		"definitionId": "ingest",
		"documentId":   "doc-flaky",
		"items":        items,
	}, Retry(1).Options()...)
	require.NoError(t, err)

	failed, err := runner.WaitForExecution(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionFailed, failed.Status)
	assert.Contains(t, failed.Error, "embedding service unavailable")

	require.Eventually(t, func() bool {
		j, err := runner.Job(ctx, job.ID)
		return err == nil && j.State == JobFailed
	}, 2*time.Second, 10*time.Millisecond)

	var failedNotes int
	for _, m := range runner.Notifications.Drain() {
		if m.Type == api.NotifyPipelineFailed {
			failedNotes++
		}
	}
	assert.Equal(t, 1, failedNotes)

	history, err := runner.History(ctx, job.ID)
	require.NoError(t, err)
	var failedEvents int
	for _, ev := range history {
		if ev.Type == api.EventExecutionFailed {
			failedEvents++
		}
		assert.NotEqual(t, api.EventExecutionCompleted, ev.Type)
	}
	assert.Equal(t, 1, failedEvents)

	// Requeue the failed job: the follow-up run reuses the cached outputs of
	// the nodes that completed before the failure.
	require.NoError(t, runner.Retry(ctx, job.ID))
	done, err := runner.WaitForDocument(ctx, "doc-flaky")
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, done.Status)
	assert.Equal(t, job.ID, done.RetryOf)
	assert.Equal(t, 2, done.Metrics.CacheHits)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 10, done.Metrics.ItemsProcessed)

	original, err := runner.Execution(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionFailed, original.Status, "terminal statuses never regress")
}

func TestLocalRunner_ExecuteSynchronously(t *testing.T) {
	ctx := waitCtx(t)
	runner := newTestRunner(t)

	exec, out, err := runner.Execute(ctx, "ingest", []Item{
		{ID: "1", Content: "one two three four"},
		{ID: "2", Content: "one two three four"},
		{ID: "3", Content: "two words"},
	})
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, exec.Status)
	require.Len(t, out, 1)
	assert.Equal(t, "1", out[0].ID)
	assert.NotEmpty(t, out[0].Embedding)

	_, _, err = runner.Execute(ctx, "missing", nil)
	require.Error(t, err)
}

func TestLocalRunner_CancelDocumentRemovesQueuedJobs(t *testing.T) {
	ctx := waitCtx(t)
	runner := newTestRunner(t)

	job, err := runner.Dispatch(ctx, JobTypePipelineExecution, map[string]any{
		"definitionId": "ingest",
		"documentId":   "doc-late",
		"items":        []Item{{ID: "a", Content: "never going to run"}},
	}, DelayFor(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, JobDelayed, job.State)

	n, err := runner.CancelDocument(ctx, "doc-late")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = runner.Job(ctx, job.ID)
	require.Error(t, err)
}

func TestLocalRunner_CancelRunningJobIsNotRetried(t *testing.T) {
	ctx := waitCtx(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	slowDedup := NamedStep(StepDedup, func(ctx context.Context, items []Item, sc StepContext) (StepResult, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return StepResult{Items: items}, nil
	})
	runner := newTestRunner(t, WithSteps(slowDedup))

	job, err := runner.Dispatch(ctx, JobTypePipelineExecution, map[string]any{
		"definitionId": "ingest",
		"documentId":   "doc-cancel",
		"items":        []Item{{ID: "a", Content: "enough words to pass the filter"}},
	}, Retry(3).Immediate().Options()...)
	require.NoError(t, err)

	select {
	case <-entered:
	case <-ctx.Done():
		t.Fatalf("step never started: %v", ctx.Err())
	}

	running, removed, err := runner.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, 1, removed, "the active job carries its execution id")
	close(release)

	exec, err := runner.WaitForExecution(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionCancelled, exec.Status)

	completed := func() bool {
		for _, m := range runner.Notifications.Snapshot() {
			if m.Type == api.NotifyPipelineCompleted && m.Field(api.FieldDocumentID) == "doc-cancel" {
				return true
			}
		}
		return false
	}
	assert.Never(t, completed, 300*time.Millisecond, 20*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	stored, err := runner.Execution(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionCancelled, stored.Status)
}

func TestLocalRunner_WorkflowRunsBranches(t *testing.T) {
	ctx := waitCtx(t)
	wf := Workflow("enrich").
		Node("clean", StepDedup, nil).
		Node("sum", StepSummarize, map[string]any{"max_sentences": 1}, "clean").
		Node("graph", StepGraphExtract, nil, "clean").
		MaxConcurrency(2)
	runner := newTestRunner(t)
	wf.MustRegister(ctx, runner)

	exec, _, err := runner.Execute(ctx, "enrich", []Item{
		{ID: "d1", Content: "Alice met Bob in Paris. Alice and Bob visited the Louvre. The weather was fine."},
	})
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, exec.Status)
	assert.Equal(t, 3, exec.Metrics.NodesProcessed)
}

func TestLocalRunner_SQLitePersistsAcrossRunners(t *testing.T) {
	ctx := waitCtx(t)
	path := filepath.Join(t.TempDir(), "docflow.db")

	first, err := NewLocalRunner(ctx, WithSQLite(path), WithDefinitions(ingestPipeline()))
	require.NoError(t, err)
	exec, _, err := first.Execute(ctx, "ingest", []Item{{ID: "1", Content: "persisted across restarts"}})
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))
	require.NoError(t, first.Close(ctx), "Close is idempotent")

	second, err := NewLocalRunner(ctx, WithSQLite(path))
	require.NoError(t, err)
	defer second.Close(ctx)

	got, err := second.Execution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, got.Status)

	// The definition was stored by the first runner.
	again, _, err := second.Execute(ctx, "ingest", []Item{{ID: "2", Content: "still runs after reopening"}})
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, again.Status)
}
