package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/petrijr/docflow/pkg/api"
	"github.com/petrijr/docflow/pkg/dispatch"
	"github.com/petrijr/docflow/pkg/worker"
)

// Segmentation modes for document-ingest.
const (
	SegmentParagraph = "paragraph"
	SegmentLine      = "line"
)

var blankLine = regexp.MustCompile(`\n\s*\n`)

// DocumentIngestData is the payload of a document-ingest job.
type DocumentIngestData struct {
	DocumentID   string         `json:"documentId"`
	DefinitionID string         `json:"definitionId"`
	Content      string         `json:"content"`
	Segmentation string         `json:"segmentation,omitempty"`
	DatasetID    string         `json:"datasetId,omitempty"`
	UserID       string         `json:"userId,omitempty"`
	PostID       string         `json:"postId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// DocumentIngestJob splits a document into segments and dispatches a
// pipeline-execution job over them.
type DocumentIngestJob struct {
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

func NewDocumentIngestJob(d *dispatch.Dispatcher, logger *slog.Logger) *DocumentIngestJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentIngestJob{dispatcher: d, logger: logger}
}

func (j *DocumentIngestJob) Process(ctx context.Context, job *api.Job) error {
	var data DocumentIngestData
	if err := decode(job.Data, &data); err != nil {
		return worker.Permanent(err)
	}
	if data.DocumentID == "" || data.DefinitionID == "" {
		return worker.Permanent(errors.New("document-ingest: documentId and definitionId are required"))
	}

	items, err := Segment(data.DocumentID, data.Content, data.Segmentation)
	if err != nil {
		return worker.Permanent(err)
	}

	payload, err := ToData(PipelineExecutionData{
		DefinitionID: data.DefinitionID,
		Items:        items,
		DocumentID:   data.DocumentID,
		DatasetID:    data.DatasetID,
		UserID:       data.UserID,
		PostID:       data.PostID,
		Metadata:     data.Metadata,
	})
	if err != nil {
		return worker.Permanent(err)
	}

	next, err := j.dispatcher.Dispatch(ctx, TypePipelineExecution, payload)
	if err != nil {
		return fmt.Errorf("dispatch pipeline: %w", err)
	}

	j.logger.InfoContext(ctx, "document ingested",
		slog.String("job_id", job.ID),
		slog.String("document_id", data.DocumentID),
		slog.Int("segments", len(items)),
		slog.String("pipeline_job_id", next.ID),
	)
	return nil
}

// Segment splits content into items with ids "<documentID>-<n>".
func Segment(documentID, content, mode string) ([]api.Item, error) {
	var parts []string
	switch mode {
	case "", SegmentParagraph:
		parts = blankLine.Split(strings.ReplaceAll(content, "\r\n", "\n"), -1)
	case SegmentLine:
		parts = strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	default:
		return nil, fmt.Errorf("unknown segmentation %q", mode)
	}

	items := make([]api.Item, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n := len(items)
		items = append(items, api.Item{
			ID:      fmt.Sprintf("%s-%d", documentID, n+1),
			Content: p,
			Metadata: map[string]any{
				api.FieldDocumentID: documentID,
				"segment":           n,
			},
		})
	}
	return items, nil
}
