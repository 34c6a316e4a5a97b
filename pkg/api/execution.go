package api

import (
	"errors"
	"fmt"
	"time"
)

// ErrIllegalTransition is returned when an execution status change would
// regress or skip the running state.
var ErrIllegalTransition = errors.New("illegal execution status transition")

// ExecutionStatus is the state of one pipeline or workflow run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is allowed:
// pending -> running -> {completed | failed | cancelled}.
func CanTransition(from, to ExecutionStatus) bool {
	switch from {
	case ExecutionPending:
		return to == ExecutionRunning
	case ExecutionRunning:
		return to == ExecutionCompleted || to == ExecutionFailed || to == ExecutionCancelled
	}
	return false
}

// NodeMetrics records the outcome of one node within an execution.
type NodeMetrics struct {
	NodeID    string         `json:"nodeId"`
	StepType  string         `json:"stepType"`
	ItemsIn   int            `json:"itemsIn"`
	ItemsOut  int            `json:"itemsOut"`
	Duration  time.Duration  `json:"duration"`
	Cached    bool           `json:"cached"`
	StepStats map[string]any `json:"stepStats,omitempty"`
}

// ExecutionMetrics summarises a finished execution.
type ExecutionMetrics struct {
	NodesProcessed int           `json:"nodesProcessed"`
	ItemsProcessed int           `json:"itemsProcessed"`
	TotalDuration  time.Duration `json:"totalDuration"`
	CacheHits      int           `json:"cacheHits"`
	Nodes          []NodeMetrics `json:"nodes,omitempty"`
}

// Execution is one run of a definition.
type Execution struct {
	ID           string `json:"id"`
	DefinitionID string `json:"definitionId"`
	// RetryOf is set when this execution re-runs a terminal execution. The
	// retry shares the original's node output cache.
	RetryOf string `json:"retryOf,omitempty"`

	DocumentID string `json:"documentId,omitempty"`
	DatasetID  string `json:"datasetId,omitempty"`
	UserID     string `json:"userId,omitempty"`

	Status      ExecutionStatus  `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	Error       string           `json:"error,omitempty"`
	Metrics     ExecutionMetrics `json:"metrics"`
}

// Transition moves the execution to status to, stamping StartedAt or
// CompletedAt.
func (e *Execution) Transition(to ExecutionStatus, at time.Time) error {
	if !CanTransition(e.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, e.Status, to)
	}
	e.Status = to
	t := at
	switch {
	case to == ExecutionRunning:
		e.StartedAt = &t
	case to.Terminal():
		e.CompletedAt = &t
	}
	return nil
}

// CacheScope is the execution id under which node outputs are cached.
func (e *Execution) CacheScope() string {
	if e.RetryOf != "" {
		return e.RetryOf
	}
	return e.ID
}

// Clone returns a deep copy suitable for handing out of a store.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	cp := *e
	if e.StartedAt != nil {
		t := *e.StartedAt
		cp.StartedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	if e.Metrics.Nodes != nil {
		cp.Metrics.Nodes = append([]NodeMetrics(nil), e.Metrics.Nodes...)
	}
	return &cp
}
