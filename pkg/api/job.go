package api

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// JobState is the lifecycle state of a queued job.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobDelayed   JobState = "delayed"
)

// AllJobStates lists every job state in reporting order.
var AllJobStates = []JobState{JobWaiting, JobActive, JobCompleted, JobFailed, JobDelayed}

// ParseJobState validates s as a JobState.
func ParseJobState(s string) (JobState, error) {
	for _, st := range AllJobStates {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job state %q", s)
}

// Terminal reports whether the state is completed or failed.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Correlation fields carried in job data and notification payloads.
const (
	FieldExecutionID = "executionId"
	FieldDocumentID  = "documentId"
	FieldPostID      = "postId"
)

// BackoffType selects how the retry delay grows between attempts.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff describes the delay applied before a failed job is retried.
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// DelayFor returns the delay before the retry that follows the given
// (1-based) attempt. Exponential backoff is delay x attempt.
func (b *Backoff) DelayFor(attempt int) time.Duration {
	if b == nil || b.Delay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	switch b.Type {
	case BackoffExponential:
		return b.Delay * time.Duration(attempt)
	default:
		return b.Delay
	}
}

// JobOptions control retry, timeout and ordering of a job.
type JobOptions struct {
	// Attempts is the total number of times the handler may run. Values
	// below 1 are treated as 1.
	Attempts int      `json:"attempts"`
	Backoff  *Backoff `json:"backoff,omitempty"`
	// Timeout bounds a single handler invocation. Zero means no limit.
	Timeout time.Duration `json:"timeout,omitempty"`
	// Priority orders waiting jobs; higher values are dequeued first.
	Priority int `json:"priority,omitempty"`
	// RemoveOnComplete keeps only the N most recent completed jobs (0 keeps all).
	RemoveOnComplete int `json:"removeOnComplete,omitempty"`
	// RemoveOnFail keeps only the N most recent failed jobs (0 keeps all).
	RemoveOnFail int `json:"removeOnFail,omitempty"`
}

// MaxAttempts returns Attempts clamped to at least 1.
func (o JobOptions) MaxAttempts() int {
	if o.Attempts < 1 {
		return 1
	}
	return o.Attempts
}

// Job is a unit of queued asynchronous work.
type Job struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Data    map[string]any `json:"data"`
	Options JobOptions     `json:"options"`

	State        JobState `json:"state"`
	AttemptsMade int      `json:"attemptsMade"`
	FailedReason string   `json:"failedReason,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	RunAt       time.Time  `json:"runAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// Correlation returns the value of a correlation field in Data. Only
// strings and whole numbers correlate; numbers compare in their decimal
// form, so postId 42 and "42" match. Booleans, fractions and nested
// values never match.
func (j *Job) Correlation(field string) (string, bool) {
	if j == nil || j.Data == nil {
		return "", false
	}
	switch v := j.Data[field].(type) {
	case string:
		return v, true
	case int:
		return strconv.Itoa(v), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return strconv.FormatInt(int64(v), 10), true
		}
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return v.String(), true
		}
	}
	return "", false
}

// Clone returns a copy of the job with its own Data map.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Data != nil {
		cp.Data = make(map[string]any, len(j.Data))
		for k, v := range j.Data {
			cp.Data[k] = v
		}
	}
	if j.Options.Backoff != nil {
		b := *j.Options.Backoff
		cp.Options.Backoff = &b
	}
	if j.ProcessedAt != nil {
		t := *j.ProcessedAt
		cp.ProcessedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

// QueueStats holds job counts per state.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

// Add increments the counter for state by n.
func (s *QueueStats) Add(state JobState, n int) {
	switch state {
	case JobWaiting:
		s.Waiting += n
	case JobActive:
		s.Active += n
	case JobCompleted:
		s.Completed += n
	case JobFailed:
		s.Failed += n
	case JobDelayed:
		s.Delayed += n
	}
}

// Count returns the counter for state.
func (s QueueStats) Count(state JobState) int {
	switch state {
	case JobWaiting:
		return s.Waiting
	case JobActive:
		return s.Active
	case JobCompleted:
		return s.Completed
	case JobFailed:
		return s.Failed
	case JobDelayed:
		return s.Delayed
	}
	return 0
}
