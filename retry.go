package docflow

import (
	"time"

	"github.com/petrijr/docflow/pkg/api"
	"github.com/petrijr/docflow/pkg/dispatch"
)

// RetryBuilder provides a fluent way to construct job retry options for
// LocalRunner.Dispatch.
type RetryBuilder struct {
	attempts int
	backoff  *api.Backoff
}

// Retry creates a RetryBuilder allowing at most attempts runs of a job.
//
// attempts <= 0 is treated as 1 (no retries).
func Retry(attempts int) RetryBuilder {
	if attempts <= 0 {
		attempts = 1
	}
	return RetryBuilder{attempts: attempts}
}

// WithExponentialBackoff waits delay x n before retry n.
//
// Example:
//
//	docflow.Retry(3).WithExponentialBackoff(time.Second)
func (r RetryBuilder) WithExponentialBackoff(delay time.Duration) RetryBuilder {
	r.backoff = &api.Backoff{Type: api.BackoffExponential, Delay: delay}
	return r
}

// WithFixedBackoff waits delay before every retry.
func (r RetryBuilder) WithFixedBackoff(delay time.Duration) RetryBuilder {
	r.backoff = &api.Backoff{Type: api.BackoffFixed, Delay: delay}
	return r
}

// Immediate retries without waiting.
func (r RetryBuilder) Immediate() RetryBuilder {
	r.backoff = &api.Backoff{Type: api.BackoffFixed}
	return r
}

// Attempts returns the configured attempt limit.
func (r RetryBuilder) Attempts() int {
	return r.attempts
}

// Options returns the dispatch options to pass to LocalRunner.Dispatch.
func (r RetryBuilder) Options() []DispatchOption {
	opts := []DispatchOption{dispatch.WithAttempts(r.attempts)}
	if r.backoff != nil {
		opts = append(opts, dispatch.WithBackoff(r.backoff.Type, r.backoff.Delay))
	}
	return opts
}
