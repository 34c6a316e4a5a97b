package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/petrijr/docflow/internal/engine"
	"github.com/petrijr/docflow/pkg/api"
	"github.com/petrijr/docflow/pkg/worker"
)

// PipelineExecutionData is the payload of a pipeline-execution job.
type PipelineExecutionData struct {
	DefinitionID string         `json:"definitionId"`
	ExecutionID  string         `json:"executionId,omitempty"`
	Items        []api.Item     `json:"items"`
	DocumentID   string         `json:"documentId,omitempty"`
	DatasetID    string         `json:"datasetId,omitempty"`
	UserID       string         `json:"userId,omitempty"`
	PostID       string         `json:"postId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// StampExecutionID writes the job id into the executionId field of a
// pipeline-execution job that has none, so cancelling by execution id also
// finds jobs that rely on the default. Data is copied, never mutated.
func StampExecutionID(job *api.Job) {
	if job.Type != TypePipelineExecution || job.ID == "" {
		return
	}
	if id, _ := job.Data[api.FieldExecutionID].(string); id != "" {
		return
	}
	data := make(map[string]any, len(job.Data)+1)
	for k, v := range job.Data {
		data[k] = v
	}
	data[api.FieldExecutionID] = job.ID
	job.Data = data
}

// Runner executes a definition. *engine.Executor implements it.
type Runner interface {
	Execute(ctx context.Context, req engine.Request) (*engine.Result, error)
}

// PipelineExecutionJob runs a definition over the items carried by the job.
// The execution id defaults to the job id, so queue retries of the same job
// resume from the node outputs cached by earlier attempts.
type PipelineExecutionJob struct {
	runner Runner
	logger *slog.Logger
}

func NewPipelineExecutionJob(r Runner, logger *slog.Logger) *PipelineExecutionJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineExecutionJob{runner: r, logger: logger}
}

func (j *PipelineExecutionJob) Process(ctx context.Context, job *api.Job) error {
	var data PipelineExecutionData
	if err := decode(job.Data, &data); err != nil {
		return worker.Permanent(err)
	}
	if data.DefinitionID == "" {
		return worker.Permanent(errors.New("pipeline-execution: definitionId is required"))
	}
	if data.ExecutionID == "" {
		data.ExecutionID = job.ID
	}

	meta := make(map[string]any, len(data.Metadata)+2)
	for k, v := range data.Metadata {
		meta[k] = v
	}
	meta["jobId"] = job.ID
	if data.PostID != "" {
		meta[api.FieldPostID] = data.PostID
	}

	res, err := j.runner.Execute(ctx, engine.Request{
		DefinitionID: data.DefinitionID,
		ExecutionID:  data.ExecutionID,
		Items:        data.Items,
		DocumentID:   data.DocumentID,
		DatasetID:    data.DatasetID,
		UserID:       data.UserID,
		Metadata:     meta,
	})
	if errors.Is(err, engine.ErrExecutionCancelled) {
		// A cancelled execution is final; retrying would resume it.
		j.logger.InfoContext(ctx, "pipeline job cancelled",
			slog.String("job_id", job.ID),
			slog.String("execution_id", data.ExecutionID),
		)
		return nil
	}
	if err != nil {
		if engine.IsConfigError(err) {
			return worker.Permanent(err)
		}
		return err
	}

	j.logger.InfoContext(ctx, "pipeline job finished",
		slog.String("job_id", job.ID),
		slog.String("execution_id", res.Execution.ID),
		slog.Int("items", len(res.Items)),
	)
	return nil
}
