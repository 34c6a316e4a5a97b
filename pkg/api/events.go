package api

import "time"

// EventType identifies a lifecycle event published on the bus.
type EventType string

const (
	EventExecutionStarted   EventType = "PIPELINE_EXECUTION_STARTED"
	EventExecutionCompleted EventType = "PIPELINE_EXECUTION_COMPLETED"
	EventExecutionFailed    EventType = "PIPELINE_EXECUTION_FAILED"
	EventExecutionCancelled EventType = "PIPELINE_EXECUTION_CANCELLED"

	EventStepCompleted EventType = "PIPELINE_STEP_COMPLETED"
	EventStepFailed    EventType = "PIPELINE_STEP_FAILED"

	EventJobCompleted EventType = "QUEUE_JOB_COMPLETED"
	EventJobFailed    EventType = "QUEUE_JOB_FAILED"
)

// Event is an immutable bus message.
type Event struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, payload any) Event {
	return Event{Type: t, Payload: payload, Timestamp: time.Now()}
}

// ExecutionID extracts the execution id carried by the payload, if any.
func (e Event) ExecutionID() string {
	switch p := e.Payload.(type) {
	case ExecutionEventPayload:
		return p.ExecutionID
	case *ExecutionEventPayload:
		return p.ExecutionID
	case StepEventPayload:
		return p.ExecutionID
	case *StepEventPayload:
		return p.ExecutionID
	case JobEventPayload:
		if id, ok := p.Data[FieldExecutionID].(string); ok {
			return id
		}
	}
	return ""
}

// ExecutionEventPayload accompanies PIPELINE_EXECUTION_* events.
type ExecutionEventPayload struct {
	ExecutionID  string            `json:"executionId"`
	DefinitionID string            `json:"definitionId"`
	DocumentID   string            `json:"documentId,omitempty"`
	DatasetID    string            `json:"datasetId,omitempty"`
	UserID       string            `json:"userId,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
	Status       ExecutionStatus   `json:"status"`
	Error        string            `json:"error,omitempty"`
	Metrics      *ExecutionMetrics `json:"metrics,omitempty"`
}

// StepEventPayload accompanies PIPELINE_STEP_* events.
type StepEventPayload struct {
	ExecutionID  string         `json:"executionId"`
	DefinitionID string         `json:"definitionId"`
	DocumentID   string         `json:"documentId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	NodeID       string         `json:"nodeId"`
	StepType     string         `json:"stepType"`
	ItemsIn      int            `json:"itemsIn"`
	ItemsOut     int            `json:"itemsOut"`
	Cached       bool           `json:"cached"`
	Duration     time.Duration  `json:"duration"`
	Error        string         `json:"error,omitempty"`
}

// JobEventPayload accompanies QUEUE_JOB_* events.
type JobEventPayload struct {
	JobID        string         `json:"jobId"`
	JobType      string         `json:"jobType"`
	Data         map[string]any `json:"data"`
	AttemptsMade int            `json:"attemptsMade"`
	Error        string         `json:"error,omitempty"`
}

// ExecutionEvent is an append-only history record derived from bus events.
// Step rows carry the node and its item counts; execution rows carry the
// status reached. Detail is a short human-readable summary.
type ExecutionEvent struct {
	ExecutionID  string          `json:"executionId"`
	At           time.Time       `json:"at"`
	Type         EventType       `json:"type"`
	DefinitionID string          `json:"definitionId,omitempty"`
	DocumentID   string          `json:"documentId,omitempty"`
	NodeID       string          `json:"nodeId,omitempty"`
	StepType     string          `json:"stepType,omitempty"`
	ItemsIn      int             `json:"itemsIn,omitempty"`
	ItemsOut     int             `json:"itemsOut,omitempty"`
	Cached       bool            `json:"cached,omitempty"`
	Duration     time.Duration   `json:"duration,omitempty"`
	Status       ExecutionStatus `json:"status,omitempty"`
	JobID        string          `json:"jobId,omitempty"`
	Error        string          `json:"error,omitempty"`
	Detail       string          `json:"detail,omitempty"`
}
