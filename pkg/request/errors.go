package request

import "errors"

// Common errors returned by the manager.
var (
	// ErrTimeout is returned when an operation exceeds its wall-clock
	// timeout.
	ErrTimeout = errors.New("request timed out")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrCancelled is returned when the caller's context is cancelled.
	ErrCancelled = errors.New("request cancelled")
)
