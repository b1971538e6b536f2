// Package syncx provides the async synchronization substrate that pkg/wal
// and pkg/raft build on: a FIFO-fair queued synchronizer, an optimistic-read
// reader/writer lock, a weak/strong shared lock, and reset events. All
// blocking entry points take a context.Context instead of a timeout value or
// a cancellation token.
package syncx

import (
	"container/list"
	"context"
	"sync"
)

// lockManager is the pluggable grant policy a QueuedSynchronizer drives.
// isAllowed reports whether the request can be granted given the current
// state of the lock; acquire mutates that state to reflect the grant. Both
// are always invoked while the synchronizer's internal mutex is held.
type lockManager interface {
	isAllowed() bool
	acquire()
}

// funcLockManager adapts two closures to the lockManager interface so call
// sites can describe a grant policy inline instead of declaring a type.
type funcLockManager struct {
	allowed func() bool
	grant   func()
}

func (f funcLockManager) isAllowed() bool { return f.allowed() }
func (f funcLockManager) acquire()        { f.grant() }

// waitNode is one entry in the FIFO wait queue. done receives exactly one
// value: nil on grant, or an error if the wait was cancelled, timed out,
// interrupted, or the synchronizer was disposed.
type waitNode struct {
	lm   lockManager
	done chan error
}

// QueuedSynchronizer is the shared base every lock in this package embeds.
// It owns a single mutex that simultaneously guards the FIFO wait queue and
// (by convention) the caller's own lock state, since lockManager callbacks
// always run with that mutex held. This keeps state transitions and queue
// admission atomic without a second lock.
type QueuedSynchronizer struct {
	mu       sync.Mutex
	queue    list.List
	disposed bool
}

// TryAcquire attempts a non-blocking grant. It never enqueues; if the
// request cannot be granted immediately it fails rather than waiting.
func (q *QueuedSynchronizer) TryAcquire(lm lockManager) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disposed {
		return false
	}
	if !lm.isAllowed() {
		return false
	}
	lm.acquire()
	return true
}

// Wait attempts to acquire lm, blocking and queuing FIFO if it cannot be
// granted immediately. It returns nil once granted, or an error if ctx is
// cancelled/times out, the wait is interrupted, or the synchronizer is
// disposed while queued.
func (q *QueuedSynchronizer) Wait(ctx context.Context, lm lockManager) error {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return ErrDisposed
	}
	if lm.isAllowed() {
		lm.acquire()
		q.mu.Unlock()
		return nil
	}

	n := &waitNode{lm: lm, done: make(chan error, 1)}
	elem := q.queue.PushBack(n)
	q.mu.Unlock()

	select {
	case err := <-n.done:
		return err
	case <-ctx.Done():
		q.mu.Lock()
		select {
		case err := <-n.done:
			// Granted (or failed) concurrently, between ctx firing and
			// us acquiring the lock; honor that outcome instead.
			q.mu.Unlock()
			return err
		default:
		}
		q.queue.Remove(elem)
		q.mu.Unlock()
		if ctx.Err() == context.DeadlineExceeded {
			return ErrTimeout
		}
		return ErrCancelled
	}
}

// DrainWaitQueue walks the FIFO queue from the head, granting every waiter
// whose lockManager.isAllowed() now holds, and stops at the first one that
// doesn't — head-of-line blocking, so a queued writer can never be jumped by
// a later reader. Call this after any state change that might unblock
// waiters (equivalently, use Release below).
func (q *QueuedSynchronizer) DrainWaitQueue() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.drainLocked()
}

func (q *QueuedSynchronizer) drainLocked() {
	for e := q.queue.Front(); e != nil; {
		n := e.Value.(*waitNode)
		next := e.Next()
		if !n.lm.isAllowed() {
			return
		}
		n.lm.acquire()
		q.queue.Remove(e)
		n.done <- nil
		e = next
	}
}

// Release runs mutate while holding the synchronizer's mutex and then drains
// the wait queue. Use it for release-style state changes (exiting a read or
// write section) that don't go through the lockManager grant path.
func (q *QueuedSynchronizer) Release(mutate func()) {
	q.mu.Lock()
	mutate()
	q.drainLocked()
	q.mu.Unlock()
}

// Locked runs fn while holding the synchronizer's mutex, without draining
// the queue afterward. Used for read-only state inspection (e.g. validating
// an optimistic read stamp).
func (q *QueuedSynchronizer) Locked(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn()
}

// Interrupt fails every currently queued waiter with an InterruptedError and
// empties the queue. It does not affect the current holder(s) of the lock.
func (q *QueuedSynchronizer) Interrupt(reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.queue.Front(); e != nil; {
		n := e.Value.(*waitNode)
		next := e.Next()
		q.queue.Remove(e)
		n.done <- &InterruptedError{Reason: reason}
		e = next
	}
}

// Dispose marks the synchronizer permanently unusable: every queued waiter
// fails with ErrDisposed, and every subsequent TryAcquire/Wait call fails
// the same way without ever granting.
func (q *QueuedSynchronizer) Dispose() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.disposed = true
	for e := q.queue.Front(); e != nil; {
		n := e.Value.(*waitNode)
		next := e.Next()
		q.queue.Remove(e)
		n.done <- ErrDisposed
		e = next
	}
}

// QueueLen reports the number of waiters currently queued. Intended for
// diagnostics and tests, not for making grant decisions.
func (q *QueuedSynchronizer) QueueLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.Len()
}
