package taskqueue

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/petrijr/docflow/pkg/api"
)

var (
	// ErrJobNotFound is returned when a job id is unknown, including jobs
	// removed by cancellation or cleanup.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidState is returned when a job is not in the state an
	// operation requires (e.g. completing a job that is not active).
	ErrInvalidState = errors.New("job is not in the required state")

	// ErrInvalidField is returned for correlation field names that are not
	// plain identifiers.
	ErrInvalidField = errors.New("invalid correlation field")
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateField checks that a correlation field name is safe to use in a
// lookup.
func ValidateField(field string) error {
	if !fieldPattern.MatchString(field) {
		return ErrInvalidField
	}
	return nil
}

// Queue is the durable job store behind the dispatcher. A single logical
// queue serves all job types.
//
// Lifecycle: waiting -> active -> {completed, failed, delayed}; delayed jobs
// become eligible again once their RunAt has passed.
type Queue interface {
	// Enqueue stores a new job. A job whose RunAt lies in the future is
	// stored as delayed, otherwise as waiting.
	Enqueue(ctx context.Context, job *api.Job) error

	// Dequeue claims the next due job, blocking until one is available or
	// the context is cancelled. Higher priority wins, then FIFO. The
	// returned job is active and its AttemptsMade already counts this run.
	Dequeue(ctx context.Context) (*api.Job, error)

	// Complete marks an active job completed.
	Complete(ctx context.Context, id string) error

	// Retry moves an active job to delayed, eligible again at runAt.
	Retry(ctx context.Context, id, reason string, runAt time.Time) error

	// Fail marks an active job failed. This is terminal.
	Fail(ctx context.Context, id, reason string) error

	Get(ctx context.Context, id string) (*api.Job, error)
	ListByState(ctx context.Context, state api.JobState, limit int) ([]*api.Job, error)
	ListByCorrelation(ctx context.Context, field, value string) ([]*api.Job, error)
	Stats(ctx context.Context) (api.QueueStats, error)

	// Remove deletes a job regardless of state.
	Remove(ctx context.Context, id string) error

	// RemoveByCorrelation deletes jobs whose data field equals value and
	// whose state is one of states (all states when none are given).
	RemoveByCorrelation(ctx context.Context, field, value string, states ...api.JobState) (int, error)

	// Clean deletes jobs in state whose state timestamp is before
	// olderThan. A zero olderThan deletes every job in the state.
	Clean(ctx context.Context, state api.JobState, olderThan time.Time) (int, error)

	// Trim keeps only the keep most recently finished jobs in state.
	// keep <= 0 keeps everything.
	Trim(ctx context.Context, state api.JobState, keep int) (int, error)

	// Requeue moves a failed job back to waiting with a fresh attempt
	// budget.
	Requeue(ctx context.Context, id string) error

	// Len returns the approximate number of jobs waiting or delayed.
	Len() int
}

// Option configures a queue implementation.
type Option func(*options)

type options struct {
	clock        func() time.Time
	pollInterval time.Duration
}

func defaultOptions() options {
	return options{
		clock:        time.Now,
		pollInterval: 20 * time.Millisecond,
	}
}

// WithClock overrides the time source used for due-time checks and
// timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithPollInterval sets how often a blocked Dequeue re-checks for due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// stateTime is the timestamp cleanup age is measured from.
func stateTime(j *api.Job) time.Time {
	switch j.State {
	case api.JobCompleted, api.JobFailed:
		if j.FinishedAt != nil {
			return *j.FinishedAt
		}
	case api.JobActive:
		if j.ProcessedAt != nil {
			return *j.ProcessedAt
		}
	}
	return j.CreatedAt
}

func stateIn(s api.JobState, states []api.JobState) bool {
	if len(states) == 0 {
		return true
	}
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}
