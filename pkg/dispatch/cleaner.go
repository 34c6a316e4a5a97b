package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/petrijr/docflow/internal/taskqueue"
	"github.com/petrijr/docflow/pkg/api"
)

// DefaultSchedule runs cleanup once an hour.
const DefaultSchedule = "@hourly"

// cronParser supports standard 5-field cron and descriptors like "@every 30m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule validates a cleanup schedule expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// RetentionPolicy sets how long jobs may stay in each state before the
// cleaner removes them. Zero disables the purge for that state.
type RetentionPolicy struct {
	Completed     time.Duration
	Failed        time.Duration
	StalledActive time.Duration
}

// DefaultRetention keeps completed jobs 24h, failed jobs 7 days, and treats
// jobs active for over an hour as stalled.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{
		Completed:     24 * time.Hour,
		Failed:        7 * 24 * time.Hour,
		StalledActive: time.Hour,
	}
}

// CleanupReport counts the jobs removed by one cleanup run.
type CleanupReport struct {
	Completed int
	Failed    int
	Stalled   int
}

// Total is the number of removed jobs.
func (r CleanupReport) Total() int { return r.Completed + r.Failed + r.Stalled }

// Cleaner purges old jobs on a cron schedule.
type Cleaner struct {
	queue    taskqueue.Queue
	policy   RetentionPolicy
	schedule string
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	cron *cronlib.Cron
}

// CleanerOption configures a Cleaner.
type CleanerOption func(*Cleaner)

// WithSchedule sets the cron expression. Defaults to DefaultSchedule.
func WithSchedule(expr string) CleanerOption {
	return func(c *Cleaner) {
		if expr != "" {
			c.schedule = expr
		}
	}
}

// WithCleanerLogger sets the logger.
func WithCleanerLogger(l *slog.Logger) CleanerOption {
	return func(c *Cleaner) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCleanerClock sets the time source ages are measured against.
func WithCleanerClock(now func() time.Time) CleanerOption {
	return func(c *Cleaner) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCleaner creates a cleaner for queue.
func NewCleaner(queue taskqueue.Queue, policy RetentionPolicy, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{
		queue:    queue,
		policy:   policy,
		schedule: DefaultSchedule,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunOnce applies the retention policy immediately.
func (c *Cleaner) RunOnce(ctx context.Context) (CleanupReport, error) {
	var (
		report CleanupReport
		err    error
	)
	now := c.now()

	purge := func(state api.JobState, age time.Duration, into *int) {
		if err != nil || age <= 0 {
			return
		}
		*into, err = c.queue.Clean(ctx, state, now.Add(-age))
		if err != nil {
			err = fmt.Errorf("clean %s: %w", state, err)
		}
	}
	purge(api.JobCompleted, c.policy.Completed, &report.Completed)
	purge(api.JobFailed, c.policy.Failed, &report.Failed)
	purge(api.JobActive, c.policy.StalledActive, &report.Stalled)

	if err != nil {
		return report, err
	}
	if report.Total() > 0 {
		c.logger.InfoContext(ctx, "queue cleanup",
			slog.Int("completed", report.Completed),
			slog.Int("failed", report.Failed),
			slog.Int("stalled", report.Stalled),
		)
	}
	return report, nil
}

// Start schedules RunOnce on the configured cron expression.
func (c *Cleaner) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}

	cr := cronlib.New(cronlib.WithParser(cronParser))
	if _, err := cr.AddFunc(c.schedule, func() {
		if _, err := c.RunOnce(context.Background()); err != nil {
			c.logger.Error("queue cleanup failed", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("cleanup schedule %q: %w", c.schedule, err)
	}
	cr.Start()
	c.cron = cr

	c.logger.Info("queue cleaner started", slog.String("schedule", c.schedule))
	return nil
}

// Stop halts the schedule and waits for a running cleanup until ctx ends.
func (c *Cleaner) Stop(ctx context.Context) error {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr == nil {
		return nil
	}

	select {
	case <-cr.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
