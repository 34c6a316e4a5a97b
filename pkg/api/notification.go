package api

import "time"

// Notification message types pushed to client streams.
const (
	NotifyPipelineStarted   = "pipeline.started"
	NotifyStepCompleted     = "pipeline.step.completed"
	NotifyStepFailed        = "pipeline.step.failed"
	NotifyPipelineCompleted = "pipeline.completed"
	NotifyPipelineFailed    = "pipeline.failed"
	NotifyPipelineCancelled = "pipeline.cancelled"
	NotifyJobFailed         = "job.failed"
)

// NotificationMessage is delivered at most once to each connected stream.
type NotificationMessage struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Field returns the string value of a data field.
func (m NotificationMessage) Field(name string) string {
	if m.Data == nil {
		return ""
	}
	if s, ok := m.Data[name].(string); ok {
		return s
	}
	return ""
}
