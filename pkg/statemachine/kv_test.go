package statemachine

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftcore/pkg/wal"
)

func newTestKVStore(t *testing.T) *KVStore {
	t.Helper()
	dir, err := os.MkdirTemp("", "statemachine-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := NewKVStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestKVStore_ApplyPutThenGet(t *testing.T) {
	s := newTestKVStore(t)
	require.NoError(t, s.Apply(wal.LogEntry{Index: 1, Payload: EncodePut("a", []byte("1"))}))

	value, found, err := s.Get("a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("1"), value)
}

func TestKVStore_ApplyDeleteRemovesKey(t *testing.T) {
	s := newTestKVStore(t)
	require.NoError(t, s.Apply(wal.LogEntry{Index: 1, Payload: EncodePut("a", []byte("1"))}))
	require.NoError(t, s.Apply(wal.LogEntry{Index: 2, Payload: EncodeDelete("a")}))

	_, found, err := s.Get("a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestKVStore_ApplyEmptyPayloadIsNoop(t *testing.T) {
	s := newTestKVStore(t)
	assert.NoError(t, s.Apply(wal.LogEntry{Index: 1}))
}

func TestKVStore_ApplyUnknownOpFails(t *testing.T) {
	s := newTestKVStore(t)
	err := s.Apply(wal.LogEntry{Index: 1, Payload: []byte(`{"op":"bogus","key":"a"}`)})
	assert.Error(t, err)
}

func TestKVStore_SnapshotRestoreRoundTrip(t *testing.T) {
	s := newTestKVStore(t)
	require.NoError(t, s.Apply(wal.LogEntry{Index: 1, Payload: EncodePut("a", []byte("1"))}))
	require.NoError(t, s.Apply(wal.LogEntry{Index: 2, Payload: EncodePut("b", []byte("2"))}))

	snap, err := s.Snapshot()
	require.NoError(t, err)

	require.NoError(t, s.Apply(wal.LogEntry{Index: 3, Payload: EncodePut("c", []byte("3"))}))
	require.NoError(t, s.Restore(snap))

	_, found, _ := s.Get("c")
	assert.False(t, found, "restore must replace the entire key space")

	value, found, err := s.Get("a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("1"), value)
}
