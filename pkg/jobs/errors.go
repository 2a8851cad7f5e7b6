package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateJob is returned by Add when the job is already queued or
	// active. Callers treat it as "already scheduled".
	ErrDuplicateJob = errors.New("job already scheduled")

	// ErrUnsupportedStop is logged when cancellation targets a job whose
	// CanStop is false. It is never returned to the caller.
	ErrUnsupportedStop = errors.New("job cannot be stopped")

	// ErrStopped is returned by Do when the job exited because Stop was called.
	ErrStopped = errors.New("job stopped")

	// ErrJobFinished is returned by Add for a job that already completed or failed.
	ErrJobFinished = errors.New("job already finished")

	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrNotRunning     = errors.New("scheduler not running")
)

// JobError wraps a failure raised from inside Job.Do, including recovered
// panics. The scheduler logs it with the job handle and keeps going.
type JobError struct {
	Scheduler string
	Handle    Handle
	Panic     bool
	Stack     string
	Err       error
}

// Error implements error interface
func (e *JobError) Error() string {
	if e.Panic {
		return fmt.Sprintf("[Scheduler %s] job %s panicked: %v", e.Scheduler, e.Handle, e.Err)
	}
	return fmt.Sprintf("[Scheduler %s] job %s failed: %v", e.Scheduler, e.Handle, e.Err)
}

// Unwrap implements error unwrapping
func (e *JobError) Unwrap() error {
	return e.Err
}
