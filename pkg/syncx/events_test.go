package syncx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualResetEvent_ReleasesAllWaiters(t *testing.T) {
	e := NewManualResetEvent(false)
	const waiters = 5

	var wg sync.WaitGroup
	results := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- e.Wait(context.Background())
		}()
	}

	time.Sleep(20 * time.Millisecond)
	e.Set()
	wg.Wait()
	close(results)

	for err := range results {
		assert.NoError(t, err)
	}

	// Once signaled, new waiters return immediately without blocking.
	assert.NoError(t, e.Wait(context.Background()))
	assert.True(t, e.IsSet())

	e.Reset()
	assert.False(t, e.IsSet())
}

func TestAutoResetEvent_WakesExactlyOneWaiterPerSet(t *testing.T) {
	e := NewAutoResetEvent()
	done := make(chan struct{}, 2)

	go func() { _ = e.Wait(context.Background()); done <- struct{}{} }()
	go func() { _ = e.Wait(context.Background()); done <- struct{}{} }()

	time.Sleep(20 * time.Millisecond)
	e.Set()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("no waiter was woken")
	}

	select {
	case <-done:
		t.Fatal("a second waiter was woken by a single Set")
	case <-time.After(50 * time.Millisecond):
	}

	e.Set()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second waiter was never woken")
	}
}

func TestCompletionPipe_SharedByManyWaitersPerGeneration(t *testing.T) {
	p := NewCompletionPipe()
	const waiters = 4

	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, p.Wait(context.Background()))
		}()
	}

	time.Sleep(20 * time.Millisecond)
	p.Complete()
	wg.Wait()

	// A waiter joining after Complete observes the next generation, which
	// is still open until Complete is called again.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)
}
