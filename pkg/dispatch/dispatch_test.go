package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/docflow/internal/taskqueue"
	"github.com/petrijr/docflow/internal/testutil"
	"github.com/petrijr/docflow/pkg/api"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *taskqueue.InMemoryQueue, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock()
	q := taskqueue.NewInMemoryQueue(taskqueue.WithClock(clock.Now), taskqueue.WithPollInterval(time.Millisecond))
	return New(q, WithClock(clock.Now)), q, clock
}

// claim dequeues the next job without blocking the test for long.
func claim(t *testing.T, q taskqueue.Queue) *api.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	j, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	return j
}

func TestDispatch_AppliesDefaults(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	job, err := d.Dispatch(ctx, "pipeline-execution", map[string]any{"executionId": "e-1"})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, api.JobWaiting, job.State)
	assert.Equal(t, 3, job.Options.Attempts)
	require.NotNil(t, job.Options.Backoff)
	assert.Equal(t, api.BackoffExponential, job.Options.Backoff.Type)
	assert.Equal(t, 2*time.Second, job.Options.Backoff.Delay)

	stored, err := d.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "e-1", stored.Data["executionId"])
}

func TestDispatch_PrepareSeesAssignedID(t *testing.T) {
	q := taskqueue.NewInMemoryQueue()
	var seen string
	d := New(q, WithPrepare(func(j *api.Job) {
		seen = j.ID
		j.Data = map[string]any{"executionId": j.ID}
	}))

	job, err := d.Dispatch(context.Background(), "pipeline-execution", nil)
	require.NoError(t, err)
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, job.ID)

	stored, err := d.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.Data["executionId"])
}

func TestDispatch_OptionsOverrideDefaults(t *testing.T) {
	d, _, clock := newTestDispatcher(t)

	job, err := d.Dispatch(context.Background(), "document-ingest", nil,
		WithJobID("fixed-id"),
		WithAttempts(5),
		WithBackoff(api.BackoffFixed, 500*time.Millisecond),
		WithTimeout(time.Minute),
		WithPriority(7),
		WithDelay(10*time.Second),
		WithRetention(10, 20),
	)
	require.NoError(t, err)

	assert.Equal(t, "fixed-id", job.ID)
	assert.Equal(t, api.JobDelayed, job.State)
	assert.Equal(t, clock.Now().Add(10*time.Second), job.RunAt)
	assert.Equal(t, api.JobOptions{
		Attempts:         5,
		Backoff:          &api.Backoff{Type: api.BackoffFixed, Delay: 500 * time.Millisecond},
		Timeout:          time.Minute,
		Priority:         7,
		RemoveOnComplete: 10,
		RemoveOnFail:     20,
	}, job.Options)
}

func TestDispatchWithRetry(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	job, err := d.DispatchWithRetry(context.Background(), "notify", nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, job.Options.Attempts)
	assert.Equal(t, &api.Backoff{Type: api.BackoffExponential, Delay: time.Second}, job.Options.Backoff)

	job, err = d.DispatchWithRetry(context.Background(), "notify", nil, 4, 250*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 4, job.Options.Attempts)
	assert.Equal(t, 250*time.Millisecond, job.Options.Backoff.Delay)
}

func TestDispatch_UnknownTypeIsAccepted(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	_, err := d.Dispatch(context.Background(), "no-such-handler", nil)
	require.NoError(t, err)

	stats, err := d.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)
}

func TestCancelByCorrelation_OnlyUnfinishedJobs(t *testing.T) {
	d, q, _ := newTestDispatcher(t)
	ctx := context.Background()

	done, err := d.Dispatch(ctx, "t", map[string]any{"postId": "p-1"})
	require.NoError(t, err)
	claimed := claim(t, q)
	require.Equal(t, done.ID, claimed.ID)
	require.NoError(t, q.Complete(ctx, done.ID))

	_, err = d.Dispatch(ctx, "t", map[string]any{"postId": "p-1"})
	require.NoError(t, err)
	_, err = d.Dispatch(ctx, "t", map[string]any{"postId": "p-1"}, WithDelay(time.Hour))
	require.NoError(t, err)
	_, err = d.Dispatch(ctx, "t", map[string]any{"postId": "p-2"})
	require.NoError(t, err)

	jobs, err := d.JobsByCorrelation(ctx, "postId", "p-1")
	require.NoError(t, err)
	assert.Len(t, jobs, 3)

	n, err := d.CancelByCorrelation(ctx, "postId", "p-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := d.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, api.QueueStats{Waiting: 1, Completed: 1}, stats)

	_, err = d.CancelByCorrelation(ctx, "post id; DROP", "x")
	assert.ErrorIs(t, err, taskqueue.ErrInvalidField)
}

func TestCleanStateAndRequeue(t *testing.T) {
	d, q, _ := newTestDispatcher(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := d.Dispatch(ctx, "t", nil)
		require.NoError(t, err)
	}
	failed := claim(t, q)
	require.NoError(t, q.Fail(ctx, failed.ID, "boom"))

	list, err := d.JobsByState(ctx, api.JobFailed, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "boom", list[0].FailedReason)

	require.NoError(t, d.Requeue(ctx, failed.ID))
	job, err := d.GetJob(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, api.JobWaiting, job.State)
	assert.Equal(t, 0, job.AttemptsMade)

	n, err := d.CleanState(ctx, api.JobWaiting)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, q.Len())
}
