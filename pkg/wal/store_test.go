package wal

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStateMachine records applied entries and serves a trivial
// byte-concatenation snapshot, just enough to exercise Commit/InstallSnapshot
// without pulling in the real pkg/statemachine implementation.
type fakeStateMachine struct {
	applied []LogEntry
}

func (f *fakeStateMachine) Apply(e LogEntry) error {
	f.applied = append(f.applied, e)
	return nil
}
func (f *fakeStateMachine) Snapshot() ([]byte, error) { return []byte("snapshot-bytes"), nil }
func (f *fakeStateMachine) Restore([]byte) error      { return nil }

func testOptions(dir string) Options {
	o := DefaultOptions(dir)
	o.RecordsPerPartition = 8
	o.NodeID = "node-a"
	return o
}

func entriesFrom(start uint64, n int, term uint64) []LogEntry {
	out := make([]LogEntry, n)
	for i := range out {
		out[i] = LogEntry{Term: term, Payload: []byte{byte(i)}}
	}
	_ = start
	return out
}

func TestStore_AppendReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(testOptions(dir), &fakeStateMachine{})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	last, err := s.Append(ctx, entriesFrom(1, 200, 3), 1, false, false)
	require.NoError(t, err)
	assert.EqualValues(t, 200, last)

	var got []LogEntry
	err = s.Read(ctx, 1, 200, func(item ReadItem) error {
		require.NotNil(t, item.Entry)
		got = append(got, *item.Entry)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 200)
	for i, e := range got {
		assert.EqualValues(t, i+1, e.Index)
		assert.Equal(t, []byte{byte(i)}, e.Payload)
	}
}

func TestStore_OutOfOrderAppendRejected(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(testOptions(dir), &fakeStateMachine{})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.Append(ctx, entriesFrom(1, 1, 1), 5, false, false)
	var ooe *OutOfOrderError
	require.ErrorAs(t, err, &ooe)
	assert.EqualValues(t, 1, ooe.Expected)
	assert.EqualValues(t, 5, ooe.Got)
}

func TestStore_CommitAppliesInOrder(t *testing.T) {
	dir := t.TempDir()
	sm := &fakeStateMachine{}
	s, err := Open(testOptions(dir), sm)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.Append(ctx, entriesFrom(1, 10, 1), 1, false, false)
	require.NoError(t, err)

	applied, err := s.Commit(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, applied)
	assert.EqualValues(t, 7, s.CommitIndex())
	require.Len(t, sm.applied, 7)
	for i, e := range sm.applied {
		assert.EqualValues(t, i+1, e.Index)
	}
}

func TestStore_CrashRecovery(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)

	s, err := Open(opts, &fakeStateMachine{})
	require.NoError(t, err)
	_, err = s.Append(context.Background(), entriesFrom(1, 200, 2), 1, false, false)
	require.NoError(t, err)
	_, err = s.Commit(context.Background(), 150)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(opts, &fakeStateMachine{})
	require.NoError(t, err)
	defer s2.Close()

	assert.EqualValues(t, 200, s2.LastIndex())
	assert.EqualValues(t, 150, s2.CommitIndex())

	var got []LogEntry
	err = s2.Read(context.Background(), 1, 200, func(item ReadItem) error {
		got = append(got, *item.Entry)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 200)
}

func TestStore_InstallSnapshotDeletesCoveredPartitions(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(testOptions(dir), &fakeStateMachine{})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.Append(ctx, entriesFrom(1, 1000, 1), 1, false, false)
	require.NoError(t, err)

	require.NoError(t, s.InstallSnapshot(ctx, 800, 1, 42, bytes.NewReader([]byte("state"))))
	assert.EqualValues(t, 800, s.SnapshotIndex())

	var sawSnapshot bool
	err = s.Read(ctx, 500, 801, func(item ReadItem) error {
		if item.Snapshot != nil {
			sawSnapshot = true
			assert.EqualValues(t, 800, item.Snapshot.Index)
		}
		return nil
	})
	require.NoError(t, err)
	assert.True(t, sawSnapshot)

	_, covered := s.partitions[0]
	assert.False(t, covered, "fully-covered partition 0 should have been removed")
}

func TestStore_AppendBackpressureReturnsBusy(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	opts.QueueCapacity = 1
	s, err := Open(opts, &fakeStateMachine{})
	require.NoError(t, err)
	defer s.Close()

	s.appendGate <- struct{}{} // saturate the gate ourselves
	_, err = s.Append(context.Background(), entriesFrom(1, 1, 1), 1, false, true)
	assert.ErrorIs(t, err, ErrBusy)
	<-s.appendGate
}

func TestStore_DropEntriesStartingAtRefusesCommitted(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(testOptions(dir), &fakeStateMachine{})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.Append(ctx, entriesFrom(1, 10, 1), 1, false, false)
	require.NoError(t, err)
	_, err = s.Commit(ctx, 5)
	require.NoError(t, err)

	err = s.DropEntriesStartingAt(ctx, 3)
	assert.ErrorIs(t, err, ErrAlreadyCommitted)

	require.NoError(t, s.DropEntriesStartingAt(ctx, 8))
	assert.EqualValues(t, 7, s.LastIndex())
}

func TestStore_ReadCorruptionDrainsStore(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(testOptions(dir), &fakeStateMachine{})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.Append(ctx, entriesFrom(1, 3, 1), 1, false, false)
	require.NoError(t, err)

	// Advance lastIndex past what was actually written, simulating a
	// recorded last_index whose partition metadata slots are unoccupied.
	s.lastIndex = 5

	readErr := s.Read(ctx, 1, 5, func(ReadItem) error { return nil })
	assert.Error(t, readErr)
	assert.True(t, s.Drained())

	_, err = s.Append(ctx, entriesFrom(6, 1, 1), 6, false, false)
	assert.ErrorIs(t, err, ErrDrained)
}
