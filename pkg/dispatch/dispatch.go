// Package dispatch is the producer side of the job queue: it enqueues typed
// jobs with retry options and exposes queue introspection and cleanup.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/docflow/internal/taskqueue"
	"github.com/petrijr/docflow/pkg/api"
)

// Defaults are the job options applied when a dispatch call leaves them
// unset.
type Defaults struct {
	Attempts         int
	Backoff          api.Backoff
	RemoveOnComplete int
	RemoveOnFail     int
}

// DefaultDefaults returns 3 attempts with 2s exponential backoff and no
// retention limits.
func DefaultDefaults() Defaults {
	return Defaults{
		Attempts: 3,
		Backoff:  api.Backoff{Type: api.BackoffExponential, Delay: 2 * time.Second},
	}
}

// Dispatcher enqueues jobs. Job types are not checked here; a type without
// a handler fails when a worker picks it up.
type Dispatcher struct {
	queue    taskqueue.Queue
	defaults Defaults
	logger   *slog.Logger
	now      func() time.Time
	prepare  []func(*api.Job)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDefaults replaces the default job options.
func WithDefaults(d Defaults) DispatcherOption {
	return func(x *Dispatcher) { x.defaults = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(x *Dispatcher) {
		if l != nil {
			x.logger = l
		}
	}
}

// WithClock sets the time source used for delayed jobs.
func WithClock(now func() time.Time) DispatcherOption {
	return func(x *Dispatcher) {
		if now != nil {
			x.now = now
		}
	}
}

// WithPrepare adds a hook that may adjust each job before it is stored.
// The job id is already assigned when hooks run.
func WithPrepare(fn func(*api.Job)) DispatcherOption {
	return func(x *Dispatcher) {
		if fn != nil {
			x.prepare = append(x.prepare, fn)
		}
	}
}

// New creates a Dispatcher over queue.
func New(queue taskqueue.Queue, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:    queue,
		defaults: DefaultDefaults(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type request struct {
	id      string
	options api.JobOptions
	delay   time.Duration
}

// Option adjusts a single dispatch.
type Option func(*request)

// WithAttempts sets the total number of handler runs.
func WithAttempts(n int) Option {
	return func(r *request) { r.options.Attempts = n }
}

// WithBackoff sets the retry backoff.
func WithBackoff(t api.BackoffType, delay time.Duration) Option {
	return func(r *request) { r.options.Backoff = &api.Backoff{Type: t, Delay: delay} }
}

// WithTimeout bounds each handler run.
func WithTimeout(d time.Duration) Option {
	return func(r *request) { r.options.Timeout = d }
}

// WithPriority orders the job ahead of lower priorities.
func WithPriority(p int) Option {
	return func(r *request) { r.options.Priority = p }
}

// WithDelay holds the job back for d.
func WithDelay(d time.Duration) Option {
	return func(r *request) { r.delay = d }
}

// WithJobID sets the job id instead of generating one.
func WithJobID(id string) Option {
	return func(r *request) { r.id = id }
}

// WithRetention overrides removeOnComplete / removeOnFail for this job.
func WithRetention(keepCompleted, keepFailed int) Option {
	return func(r *request) {
		r.options.RemoveOnComplete = keepCompleted
		r.options.RemoveOnFail = keepFailed
	}
}

// WithJobOptions replaces every option at once. Zero fields still fall
// back to the dispatcher defaults.
func WithJobOptions(o api.JobOptions) Option {
	return func(r *request) {
		delay := r.delay
		r.options = o
		r.delay = delay
	}
}

func (d *Dispatcher) applyDefaults(o *api.JobOptions) {
	if o.Attempts <= 0 {
		o.Attempts = d.defaults.Attempts
	}
	if o.Backoff == nil && d.defaults.Backoff.Delay > 0 {
		b := d.defaults.Backoff
		o.Backoff = &b
	}
	if o.RemoveOnComplete == 0 {
		o.RemoveOnComplete = d.defaults.RemoveOnComplete
	}
	if o.RemoveOnFail == 0 {
		o.RemoveOnFail = d.defaults.RemoveOnFail
	}
}

// Dispatch enqueues a job of jobType. It fails only when the queue cannot
// store the job.
func (d *Dispatcher) Dispatch(ctx context.Context, jobType string, data map[string]any, opts ...Option) (*api.Job, error) {
	var r request
	for _, opt := range opts {
		opt(&r)
	}
	d.applyDefaults(&r.options)

	if r.id == "" {
		r.id = uuid.NewString()
	}
	job := &api.Job{
		ID:      r.id,
		Type:    jobType,
		Data:    data,
		Options: r.options,
	}
	for _, fn := range d.prepare {
		fn(job)
	}
	if r.delay > 0 {
		job.RunAt = d.now().Add(r.delay)
	}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	d.logger.DebugContext(ctx, "job dispatched",
		slog.String("job_id", job.ID),
		slog.String("job_type", jobType),
		slog.String("state", string(job.State)),
	)
	return job, nil
}

// DispatchWithRetry dispatches with exponential backoff. attempts <= 0
// means 3 and delay <= 0 means 1s.
func (d *Dispatcher) DispatchWithRetry(ctx context.Context, jobType string, data map[string]any, attempts int, delay time.Duration) (*api.Job, error) {
	if attempts <= 0 {
		attempts = 3
	}
	if delay <= 0 {
		delay = time.Second
	}
	return d.Dispatch(ctx, jobType, data, WithAttempts(attempts), WithBackoff(api.BackoffExponential, delay))
}

// GetJob returns the job with id.
func (d *Dispatcher) GetJob(ctx context.Context, id string) (*api.Job, error) {
	return d.queue.Get(ctx, id)
}

// JobsByCorrelation returns jobs whose data field equals value, oldest first.
func (d *Dispatcher) JobsByCorrelation(ctx context.Context, field, value string) ([]*api.Job, error) {
	return d.queue.ListByCorrelation(ctx, field, value)
}

// JobsByState lists up to limit jobs in state, oldest first.
func (d *Dispatcher) JobsByState(ctx context.Context, state api.JobState, limit int) ([]*api.Job, error) {
	return d.queue.ListByState(ctx, state, limit)
}

// Stats returns job counts per state.
func (d *Dispatcher) Stats(ctx context.Context) (api.QueueStats, error) {
	return d.queue.Stats(ctx)
}

// CleanState removes every job in state and returns how many were removed.
func (d *Dispatcher) CleanState(ctx context.Context, state api.JobState) (int, error) {
	n, err := d.queue.Clean(ctx, state, time.Time{})
	if err != nil {
		return 0, err
	}
	d.logger.InfoContext(ctx, "queue state cleaned",
		slog.String("state", string(state)),
		slog.Int("removed", n),
	)
	return n, nil
}

// CancelByCorrelation removes waiting, active and delayed jobs whose data
// field equals value. Active handlers keep running; their results are
// discarded.
func (d *Dispatcher) CancelByCorrelation(ctx context.Context, field, value string) (int, error) {
	n, err := d.queue.RemoveByCorrelation(ctx, field, value, api.JobWaiting, api.JobActive, api.JobDelayed)
	if err != nil {
		return 0, err
	}
	d.logger.InfoContext(ctx, "jobs cancelled",
		slog.String("field", field),
		slog.String("value", value),
		slog.Int("removed", n),
	)
	return n, nil
}

// Requeue moves a failed job back to waiting with its attempts reset.
func (d *Dispatcher) Requeue(ctx context.Context, id string) error {
	return d.queue.Requeue(ctx, id)
}
