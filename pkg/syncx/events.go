package syncx

import (
	"context"
	"sync"
)

// ManualResetEvent is a level-triggered signal: once Set, every current and
// future Wait call returns immediately until Reset is called. Used where a
// state transition (e.g. "snapshot installed") needs to be observed by an
// unbounded number of waiters, not just the next one.
type ManualResetEvent struct {
	mu     sync.Mutex
	signal chan struct{}
}

// NewManualResetEvent returns an event in the given initial state.
func NewManualResetEvent(signaled bool) *ManualResetEvent {
	e := &ManualResetEvent{signal: make(chan struct{})}
	if signaled {
		close(e.signal)
	}
	return e
}

// Set puts the event into the signaled state, releasing every waiter.
func (e *ManualResetEvent) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.signal:
		// already signaled
	default:
		close(e.signal)
	}
}

// Reset returns the event to the unsignaled state.
func (e *ManualResetEvent) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.signal:
		e.signal = make(chan struct{})
	default:
	}
}

// Wait blocks until the event is signaled or ctx is done.
func (e *ManualResetEvent) Wait(ctx context.Context) error {
	e.mu.Lock()
	ch := e.signal
	e.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsSet reports whether the event is currently signaled.
func (e *ManualResetEvent) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.signal:
		return true
	default:
		return false
	}
}

// AutoResetEvent is an edge-triggered signal: a Set wakes exactly one
// blocked (or future) waiter and then automatically returns to unsignaled.
// Used for single-consumer notifications, e.g. waking pkg/raft's commit
// applier loop when the commit target advances.
type AutoResetEvent struct {
	ch chan struct{}
}

// NewAutoResetEvent returns a ready-to-use event, initially unsignaled.
func NewAutoResetEvent() *AutoResetEvent {
	return &AutoResetEvent{ch: make(chan struct{}, 1)}
}

// Set wakes one waiter. If no one is currently waiting, the next Wait call
// returns immediately instead (the signal is latched for one consumer).
func (e *AutoResetEvent) Set() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until Set is called (consuming that signal) or ctx is done.
func (e *AutoResetEvent) Wait(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CompletionPipe is a generational one-shot future shared by many waiters,
// e.g. membership's wait_for_apply: every caller waiting for "the next
// apply" observes the same completion, and Complete both releases them and
// opens a fresh generation for whoever calls Wait next.
type CompletionPipe struct {
	mu  sync.Mutex
	gen chan struct{}
}

// NewCompletionPipe returns a pipe with its first generation open.
func NewCompletionPipe() *CompletionPipe {
	return &CompletionPipe{gen: make(chan struct{})}
}

// Wait blocks until the current generation completes or ctx is done.
func (p *CompletionPipe) Wait(ctx context.Context) error {
	p.mu.Lock()
	ch := p.gen
	p.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Complete releases every waiter on the current generation and opens a new
// one for subsequent Wait calls.
func (p *CompletionPipe) Complete() {
	p.mu.Lock()
	close(p.gen)
	p.gen = make(chan struct{})
	p.mu.Unlock()
}
