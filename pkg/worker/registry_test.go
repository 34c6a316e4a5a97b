package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/docflow/pkg/api"
)

type PipelineExecutionJob struct{}

func (*PipelineExecutionJob) Process(ctx context.Context, job *api.Job) error { return nil }

type PDFIngestHandler struct{}

func (PDFIngestHandler) Process(ctx context.Context, job *api.Job) error { return nil }

type explicitJob struct{ calls int }

func (*explicitJob) JobType() string { return "custom-type" }

func (e *explicitJob) Process(ctx context.Context, job *api.Job) error {
	e.calls++
	return nil
}

func TestJobTypeOf(t *testing.T) {
	assert.Equal(t, "pipeline-execution", JobTypeOf(&PipelineExecutionJob{}))
	assert.Equal(t, "pdf-ingest", JobTypeOf(PDFIngestHandler{}))
	assert.Equal(t, "custom-type", JobTypeOf(&explicitJob{}))
	assert.Equal(t, "", JobTypeOf(nil))
}

func TestRegistry_RegisterGetAll(t *testing.T) {
	r := NewRegistry(nil)

	jt, err := r.Register(&PipelineExecutionJob{})
	require.NoError(t, err)
	assert.Equal(t, "pipeline-execution", jt)

	first := &explicitJob{}
	second := &explicitJob{}
	_, err = r.Register(first)
	require.NoError(t, err)
	_, err = r.Register(second)
	require.NoError(t, err)

	h, ok := r.Get("custom-type")
	require.True(t, ok)
	require.NoError(t, h.Process(context.Background(), &api.Job{}))
	assert.Equal(t, 0, first.calls)
	assert.Equal(t, 1, second.calls, "last registration wins")

	assert.Equal(t, []string{"custom-type", "pipeline-execution"}, r.Types())
	assert.Len(t, r.All(), 2)

	_, err = r.Register(HandlerFunc(nil))
	require.NoError(t, err, "func handlers derive a type name too")
	assert.Error(t, r.RegisterAs("", &explicitJob{}))
}

func TestRegistry_Require(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.RegisterAs("a", HandlerFunc(func(ctx context.Context, job *api.Job) error { return nil })))

	require.NoError(t, r.Require("a"))
	err := r.Require("a", "b", "c")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHandlerNotFound))
	assert.Contains(t, err.Error(), "b, c")
}
