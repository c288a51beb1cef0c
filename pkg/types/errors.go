package types

import "errors"

// Error taxonomy shared by the scheduler, transport and worker runtime.
// Callers wrap these with context and test with errors.Is.
var (
	// ErrValidation marks a malformed submission; never retried
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown job id
	ErrNotFound = errors.New("not found")

	// ErrUnknownWorker marks a worker id the registry does not hold (or holds as offline)
	ErrUnknownWorker = errors.New("unknown worker")

	// ErrInvalidTransition marks a state machine contract violation
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrCapacityExceeded marks a worker without a free slot; transient
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrWorkerUnavailable marks a job that exhausted its reschedule budget
	ErrWorkerUnavailable = errors.New("worker unavailable")

	// ErrEngineExecution marks a worker-local execution failure
	ErrEngineExecution = errors.New("engine execution error")

	// ErrInvalidState marks an operation not valid for the job's current status
	ErrInvalidState = errors.New("invalid state")
)
