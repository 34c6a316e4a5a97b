package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/docflow/pkg/api"
)

type failingEventStore struct{ NoopEventStore }

func (failingEventStore) AppendEvent(ctx context.Context, ev api.ExecutionEvent) error {
	return errors.New("disk full")
}

func TestHistoryRecorder_RecordsExecutionEvents(t *testing.T) {
	store := NewInMemoryStore()
	rec := NewHistoryRecorder(store, nil)
	ctx := context.Background()

	require.NoError(t, rec.Handle(ctx, api.NewEvent(api.EventExecutionStarted, api.ExecutionEventPayload{
		ExecutionID: "e1", Status: api.ExecutionRunning,
	})))
	require.NoError(t, rec.Handle(ctx, api.NewEvent(api.EventStepCompleted, api.StepEventPayload{
		ExecutionID: "e1", NodeID: "dedup-1", StepType: "dedup", ItemsIn: 10, ItemsOut: 8, Cached: true,
	})))
	require.NoError(t, rec.Handle(ctx, api.NewEvent(api.EventExecutionFailed, api.ExecutionEventPayload{
		ExecutionID: "e1", Status: api.ExecutionFailed, Error: "embed exploded",
	})))
	// Job events without an execution id are not history.
	require.NoError(t, rec.Handle(ctx, api.NewEvent(api.EventJobFailed, api.JobEventPayload{JobID: "j1"})))

	evs, err := store.ListEvents(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, "dedup-1", evs[1].NodeID)
	assert.Equal(t, "dedup", evs[1].StepType)
	assert.Equal(t, 10, evs[1].ItemsIn)
	assert.Equal(t, 8, evs[1].ItemsOut)
	assert.True(t, evs[1].Cached)
	assert.Equal(t, "dedup in=10 out=8 cached", evs[1].Detail)
	assert.Equal(t, api.ExecutionFailed, evs[2].Status)
	assert.Equal(t, "embed exploded", evs[2].Error)
	assert.Equal(t, "embed exploded", evs[2].Detail)
}

func TestHistoryRecorder_RecordsPipelineJobEvents(t *testing.T) {
	store := NewInMemoryStore()
	rec := NewHistoryRecorder(store, nil)
	ctx := context.Background()

	require.NoError(t, rec.Handle(ctx, api.NewEvent(api.EventJobFailed, api.JobEventPayload{
		JobID:        "job-7",
		JobType:      "pipeline-execution",
		Data:         map[string]any{api.FieldExecutionID: "job-7", api.FieldDocumentID: "doc-7"},
		AttemptsMade: 3,
		Error:        "embedding service unavailable",
	})))

	evs, err := store.ListEvents(ctx, "job-7")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "job-7", evs[0].JobID)
	assert.Equal(t, "doc-7", evs[0].DocumentID)
	assert.Equal(t, "embedding service unavailable", evs[0].Error)
	assert.Equal(t, "job job-7 (pipeline-execution) attempts=3", evs[0].Detail)
}

func TestHistoryRecorder_StoreErrorsDoNotPropagate(t *testing.T) {
	rec := NewHistoryRecorder(failingEventStore{}, nil)
	err := rec.Handle(context.Background(), api.NewEvent(api.EventExecutionStarted, api.ExecutionEventPayload{ExecutionID: "e1"}))
	assert.NoError(t, err)
}
