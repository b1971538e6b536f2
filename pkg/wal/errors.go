package wal

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned by Append when the internal work queue is full
	// and the caller asked for non-blocking semantics.
	ErrBusy = errors.New("wal: busy, queue full")

	// ErrClosed is returned once the store has been closed.
	ErrClosed = errors.New("wal: closed")

	// ErrAlreadyCommitted is returned when an operation targets an index
	// at or before the current commit index in a way that would rewrite
	// committed history.
	ErrAlreadyCommitted = errors.New("wal: index already committed")

	// ErrDrained marks a store that suffered a fatal Corruption error: it
	// refuses new appends but continues to serve reads from the last good
	// snapshot.
	ErrDrained = errors.New("wal: store drained after corruption, read-only")
)

// OutOfOrderError reports an Append call whose start_index did not match
// the expected next index.
type OutOfOrderError struct {
	Expected uint64
	Got      uint64
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("wal: out of order append: expected start_index %d, got %d", e.Expected, e.Got)
}

// CorruptionError marks the WAL instance as permanently unsafe to write to.
type CorruptionError struct {
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("wal: corruption detected: %s", e.Reason)
}
