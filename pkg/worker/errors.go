package worker

import (
	"errors"
	"fmt"
)

// ErrHandlerNotFound is returned when a job's type has no registered
// handler. Such jobs fail immediately and are never retried.
var ErrHandlerNotFound = errors.New("job handler not found")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The worker fails the job on
// the first attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// PanicError is returned when a handler panics.
type PanicError struct {
	JobType string
	Value   any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job handler %s panicked: %v", e.JobType, e.Value)
}
