package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petrijr/docflow/pkg/api"
)

// HistoryRecorder turns bus events into ExecutionEvent rows. Attach its
// Handle method to the bus as a wildcard subscriber.
type HistoryRecorder struct {
	store  EventStore
	logger *slog.Logger
}

// NewHistoryRecorder creates a recorder writing to store.
func NewHistoryRecorder(store EventStore, logger *slog.Logger) *HistoryRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryRecorder{store: store, logger: logger}
}

// Handle records evt if it belongs to an execution. Storage errors are
// logged and swallowed so history never aborts a publish.
func (r *HistoryRecorder) Handle(ctx context.Context, evt api.Event) error {
	rec, ok := ToExecutionEvent(evt)
	if !ok {
		return nil
	}
	if err := r.store.AppendEvent(ctx, rec); err != nil {
		r.logger.WarnContext(ctx, "history append failed",
			slog.String("execution_id", rec.ExecutionID),
			slog.String("event_type", string(rec.Type)),
			slog.Any("error", err),
		)
	}
	return nil
}

// ToExecutionEvent derives a history row from a bus event.
func ToExecutionEvent(evt api.Event) (api.ExecutionEvent, bool) {
	execID := evt.ExecutionID()
	if execID == "" {
		return api.ExecutionEvent{}, false
	}
	rec := api.ExecutionEvent{
		ExecutionID: execID,
		At:          evt.Timestamp,
		Type:        evt.Type,
	}
	switch p := evt.Payload.(type) {
	case api.ExecutionEventPayload:
		rec.DefinitionID = p.DefinitionID
		rec.DocumentID = p.DocumentID
		rec.Status = p.Status
		rec.Error = p.Error
		if p.Metrics != nil {
			rec.ItemsOut = p.Metrics.ItemsProcessed
			rec.Duration = p.Metrics.TotalDuration
		}
		rec.Detail = executionDetail(p)
	case api.StepEventPayload:
		rec.DefinitionID = p.DefinitionID
		rec.DocumentID = p.DocumentID
		rec.NodeID = p.NodeID
		rec.StepType = p.StepType
		rec.ItemsIn = p.ItemsIn
		rec.ItemsOut = p.ItemsOut
		rec.Cached = p.Cached
		rec.Duration = p.Duration
		rec.Error = p.Error
		rec.Detail = stepDetail(p)
	case api.JobEventPayload:
		rec.JobID = p.JobID
		rec.DocumentID, _ = p.Data[api.FieldDocumentID].(string)
		rec.Error = p.Error
		rec.Detail = fmt.Sprintf("job %s (%s) attempts=%d", p.JobID, p.JobType, p.AttemptsMade)
	}
	return rec, true
}

func executionDetail(p api.ExecutionEventPayload) string {
	switch {
	case p.Error != "":
		return p.Error
	case p.Metrics != nil:
		return fmt.Sprintf("nodes=%d items=%d duration=%s", p.Metrics.NodesProcessed, p.Metrics.ItemsProcessed, p.Metrics.TotalDuration)
	}
	return string(p.Status)
}

func stepDetail(p api.StepEventPayload) string {
	if p.Error != "" {
		return p.Error
	}
	d := fmt.Sprintf("%s in=%d out=%d", p.StepType, p.ItemsIn, p.ItemsOut)
	if p.Cached {
		d += " cached"
	}
	return d
}
