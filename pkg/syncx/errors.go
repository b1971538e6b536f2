package syncx

import "errors"

var (
	// ErrDisposed is returned when an operation is attempted against a
	// synchronizer that has already been disposed.
	ErrDisposed = errors.New("syncx: synchronizer disposed")

	// ErrCancelled is returned when a blocking wait is abandoned because
	// its context was cancelled (not a deadline).
	ErrCancelled = errors.New("syncx: wait cancelled")

	// ErrTimeout is returned when a blocking wait's context deadline
	// elapses before the lock could be granted.
	ErrTimeout = errors.New("syncx: wait timed out")
)

// InterruptedError is returned to every waiter that was still queued when
// Interrupt was called on the synchronizer they were queued against.
type InterruptedError struct {
	Reason string
}

func (e *InterruptedError) Error() string {
	if e.Reason == "" {
		return "syncx: wait interrupted"
	}
	return "syncx: wait interrupted: " + e.Reason
}
