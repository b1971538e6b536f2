package membership

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(NewInMemoryStore(), NewInMemoryStore())
	require.NoError(t, m.Load())
	return m
}

func TestManager_ProposeThenApplyUpdatesActive(t *testing.T) {
	m := newTestManager(t)
	a := Member{ID: "a", Address: "10.0.0.1:8001"}
	b := Member{ID: "b", Address: "10.0.0.2:8001"}
	require.NoError(t, m.Propose(NewConfiguration(a, b)))

	proposed, ok := m.Proposed()
	require.True(t, ok)
	assert.True(t, proposed.Has("a"))

	applied, err := m.Apply()
	require.NoError(t, err)
	assert.True(t, applied.Has("a"))
	assert.True(t, applied.Has("b"))

	_, ok = m.Proposed()
	assert.False(t, ok, "proposal slot must be cleared after Apply")
	assert.True(t, m.Active().Has("b"))
}

func TestManager_AtMostOneProposalPending(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Propose(NewConfiguration(Member{ID: "a"})))
	err := m.Propose(NewConfiguration(Member{ID: "b"}))
	assert.ErrorIs(t, err, ErrProposalPending)
}

func TestManager_CancelProposeClearsSlot(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Propose(NewConfiguration(Member{ID: "a"})))
	require.NoError(t, m.CancelPropose())

	_, ok := m.Proposed()
	assert.False(t, ok)
	// A new proposal is accepted once the old one is cancelled.
	require.NoError(t, m.Propose(NewConfiguration(Member{ID: "b"})))
}

func TestManager_ApplyWithoutProposalFails(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Apply()
	assert.ErrorIs(t, err, ErrNoProposal)
}

func TestManager_FingerprintStrictlyIncreasesAcrossApplies(t *testing.T) {
	m := newTestManager(t)
	seen := make(map[uint64]bool)
	fp0 := m.Fingerprint()
	seen[fp0] = true

	members := []Member{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	for i, mem := range members {
		require.NoError(t, m.Propose(m.Active().With(mem)), "step %d", i)
		applied, err := m.Apply()
		require.NoError(t, err)
		fp := applied.Fingerprint()
		assert.False(t, seen[fp], "fingerprint repeated at step %d", i)
		seen[fp] = true
	}
}

func TestManager_AddAndRemoveMemberConvenienceOps(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddMember(Member{ID: "a", Address: "10.0.0.1:8001"}))
	_, err := m.Apply()
	require.NoError(t, err)
	assert.True(t, m.Active().Has("a"))

	err = m.AddMember(Member{ID: "a"})
	assert.ErrorIs(t, err, ErrMemberExists)

	require.NoError(t, m.RemoveMember("a"))
	_, err = m.Apply()
	require.NoError(t, err)
	assert.False(t, m.Active().Has("a"))

	err = m.RemoveMember("missing")
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestManager_WaitForApplyCompletesInOrderForAllPendingCallers(t *testing.T) {
	m := newTestManager(t)

	const waiters = 5
	var wg sync.WaitGroup
	results := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			results[i] = m.WaitForApply(ctx)
		}(i)
	}

	time.Sleep(20 * time.Millisecond) // let all waiters register
	require.NoError(t, m.Propose(NewConfiguration(Member{ID: "a"})))
	_, err := m.Apply()
	require.NoError(t, err)

	wg.Wait()
	for i, err := range results {
		assert.NoError(t, err, "waiter %d", i)
	}
}

func TestManager_WaitForApplyRespectsContextCancellation(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := m.WaitForApply(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_SubscribersReceiveChangeEvents(t *testing.T) {
	m := newTestManager(t)
	sub, cancel := m.Subscribe(4)
	defer cancel()

	require.NoError(t, m.Propose(NewConfiguration(Member{ID: "a"})))
	_, err := m.Apply()
	require.NoError(t, err)

	select {
	case ev := <-sub:
		require.Len(t, ev.Added, 1)
		assert.Equal(t, "a", ev.Added[0].ID)
		assert.Equal(t, m.Fingerprint(), ev.Fingerprint)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestManager_CloseClosesSubscriberChannels(t *testing.T) {
	m := newTestManager(t)
	sub, _ := m.Subscribe(1)
	require.NoError(t, m.Close())

	_, open := <-sub
	assert.False(t, open)

	err := m.Propose(NewConfiguration(Member{ID: "a"}))
	assert.ErrorIs(t, err, ErrClosed)
}
