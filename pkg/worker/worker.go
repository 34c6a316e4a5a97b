package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrijr/docflow/internal/taskqueue"
	"github.com/petrijr/docflow/pkg/api"
)

// Publisher is the slice of the event bus the worker needs.
type Publisher interface {
	Publish(ctx context.Context, evt api.Event) error
}

// Worker pulls jobs from a Queue and runs them through the Registry,
// applying each job's retry, backoff and timeout options.
type Worker struct {
	queue    taskqueue.Queue
	registry *Registry
	events   Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Worker.
type Option func(*Worker)

// WithEvents publishes QUEUE_JOB_COMPLETED / QUEUE_JOB_FAILED on p.
func WithEvents(p Publisher) Option {
	return func(w *Worker) { w.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock sets the time source used to schedule retries. It must match
// the queue's clock.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// New creates a Worker.
func New(queue taskqueue.Queue, registry *Registry, opts ...Option) *Worker {
	w := &Worker{
		queue:    queue,
		registry: registry,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ProcessOne pulls a single job from the queue and processes it.
// Returns (processed, error):
//   - processed == false: no job was obtained (ctx cancelled or dequeue error).
//   - processed == true: a job ran; err is the handler's outcome.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	return w.process(ctx, ctx)
}

// process dequeues with waitCtx and runs the job with jobCtx, so a pool can
// stop pulling work without cancelling jobs already running.
func (w *Worker) process(waitCtx, jobCtx context.Context) (bool, error) {
	job, err := w.queue.Dequeue(waitCtx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	return true, w.handle(jobCtx, job)
}

func (w *Worker) handle(ctx context.Context, job *api.Job) error {
	// Queue bookkeeping must not be skipped when ctx is cancelled mid-job.
	bctx := context.WithoutCancel(ctx)
	logger := w.logger.With(
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.Int("attempt", job.AttemptsMade),
	)

	h, ok := w.registry.Get(job.Type)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrHandlerNotFound, job.Type)
		logger.ErrorContext(ctx, "job has no handler")
		w.fail(bctx, logger, job, err)
		return err
	}

	runCtx := ctx
	if job.Options.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Options.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := w.invoke(runCtx, h, job)
	duration := time.Since(start)

	if err == nil {
		if cerr := w.queue.Complete(bctx, job.ID); cerr != nil {
			w.ackFailed(bctx, logger, cerr)
			return nil
		}
		logger.DebugContext(ctx, "job completed", slog.Duration("duration", duration))
		w.trim(bctx, logger, api.JobCompleted, job.Options.RemoveOnComplete)
		w.publish(bctx, logger, api.EventJobCompleted, jobPayload(job, ""))
		return nil
	}

	if IsPermanent(err) || job.AttemptsMade >= job.Options.MaxAttempts() {
		logger.ErrorContext(ctx, "job failed",
			slog.Duration("duration", duration),
			slog.Bool("permanent", IsPermanent(err)),
			slog.Any("error", err),
		)
		w.fail(bctx, logger, job, err)
		return err
	}

	delay := job.Options.Backoff.DelayFor(job.AttemptsMade)
	logger.WarnContext(ctx, "job attempt failed, retrying",
		slog.Duration("retry_in", delay),
		slog.Any("error", err),
	)
	if rerr := w.queue.Retry(bctx, job.ID, err.Error(), w.now().Add(delay)); rerr != nil {
		w.ackFailed(bctx, logger, rerr)
	}
	return err
}

func (w *Worker) invoke(ctx context.Context, h Handler, job *api.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{JobType: job.Type, Value: r}
		}
	}()
	return h.Process(ctx, job.Clone())
}

// fail marks the job failed and publishes QUEUE_JOB_FAILED. A job removed
// by cancellation in the meantime is left alone.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, job *api.Job, cause error) {
	if err := w.queue.Fail(ctx, job.ID, cause.Error()); err != nil {
		w.ackFailed(ctx, logger, err)
		return
	}
	w.trim(ctx, logger, api.JobFailed, job.Options.RemoveOnFail)
	w.publish(ctx, logger, api.EventJobFailed, jobPayload(job, cause.Error()))
}

func (w *Worker) ackFailed(ctx context.Context, logger *slog.Logger, err error) {
	if errors.Is(err, taskqueue.ErrJobNotFound) {
		logger.InfoContext(ctx, "job was removed while running, ignoring result")
		return
	}
	logger.ErrorContext(ctx, "job state update failed", slog.Any("error", err))
}

func (w *Worker) trim(ctx context.Context, logger *slog.Logger, state api.JobState, keep int) {
	if keep <= 0 {
		return
	}
	if _, err := w.queue.Trim(ctx, state, keep); err != nil {
		logger.WarnContext(ctx, "job retention trim failed",
			slog.String("state", string(state)),
			slog.Any("error", err),
		)
	}
}

func (w *Worker) publish(ctx context.Context, logger *slog.Logger, t api.EventType, payload api.JobEventPayload) {
	if w.events == nil {
		return
	}
	if err := w.events.Publish(ctx, api.NewEvent(t, payload)); err != nil {
		logger.WarnContext(ctx, "event subscriber failed",
			slog.String("event_type", string(t)),
			slog.Any("error", err),
		)
	}
}

func jobPayload(job *api.Job, errMsg string) api.JobEventPayload {
	return api.JobEventPayload{
		JobID:        job.ID,
		JobType:      job.Type,
		Data:         job.Clone().Data,
		AttemptsMade: job.AttemptsMade,
		Error:        errMsg,
	}
}
