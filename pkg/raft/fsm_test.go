package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftcore/pkg/membership"
	"github.com/cuemby/raftcore/pkg/wal"
)

type recordingStateMachine struct {
	applied []wal.LogEntry
}

func (r *recordingStateMachine) Apply(entry wal.LogEntry) error {
	r.applied = append(r.applied, entry)
	return nil
}
func (r *recordingStateMachine) Snapshot() ([]byte, error) { return []byte("snap"), nil }
func (r *recordingStateMachine) Restore(payload []byte) error { return nil }

func newTestMembershipManager(t *testing.T) *membership.Manager {
	t.Helper()
	m := membership.NewManager(membership.NewInMemoryStore(), membership.NewInMemoryStore())
	require.NoError(t, m.Load())
	return m
}

func TestConfigAwareFSM_InterceptsConfigChangeEntries(t *testing.T) {
	members := newTestMembershipManager(t)
	inner := &recordingStateMachine{}
	fsm := NewStateMachine(inner, members)

	cfg := membership.NewConfiguration(membership.Member{ID: "a", Address: "10.0.0.1:7000"})
	cmdID := configChangeCommandID
	entry := wal.LogEntry{Index: 1, Term: 1, Payload: encodeConfigChangeEntry(cfg), CommandID: &cmdID}

	require.NoError(t, fsm.Apply(entry))
	assert.Empty(t, inner.applied, "config-change entries must not reach the inner state machine")
	assert.Equal(t, cfg.Fingerprint(), members.Active().Fingerprint())
}

func TestConfigAwareFSM_ForwardsOrdinaryEntriesToInner(t *testing.T) {
	members := newTestMembershipManager(t)
	inner := &recordingStateMachine{}
	fsm := NewStateMachine(inner, members)

	entry := wal.LogEntry{Index: 1, Term: 1, Payload: []byte("hello")}
	require.NoError(t, fsm.Apply(entry))
	require.Len(t, inner.applied, 1)
	assert.Equal(t, []byte("hello"), inner.applied[0].Payload)
}

func TestConfigAwareFSM_IdempotentWhenAlreadyConverged(t *testing.T) {
	members := newTestMembershipManager(t)
	cfg := membership.NewConfiguration(membership.Member{ID: "a", Address: "10.0.0.1:7000"})
	require.NoError(t, members.Propose(cfg))
	_, err := members.Apply()
	require.NoError(t, err)

	fsm := NewStateMachine(nil, members)
	cmdID := configChangeCommandID
	entry := wal.LogEntry{Index: 1, Term: 1, Payload: encodeConfigChangeEntry(cfg), CommandID: &cmdID}

	// The originating leader already converged via maybeFinalizeConfigChangeLocked;
	// re-delivery at commit time must be a no-op, not an error.
	assert.NoError(t, fsm.Apply(entry))
}

func TestConfigAwareFSM_NilInnerToleratesOrdinaryEntries(t *testing.T) {
	members := newTestMembershipManager(t)
	fsm := NewStateMachine(nil, members)
	assert.NoError(t, fsm.Apply(wal.LogEntry{Index: 1, Term: 1, Payload: []byte("x")}))
}

func TestConfigAwareFSM_SnapshotRestoreDelegateToInner(t *testing.T) {
	members := newTestMembershipManager(t)
	inner := &recordingStateMachine{}
	fsm := NewStateMachine(inner, members)

	payload, err := fsm.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []byte("snap"), payload)
	assert.NoError(t, fsm.Restore(payload))
}

func TestDecodeConfigChangeEntry_RejectsGarbage(t *testing.T) {
	_, err := decodeConfigChangeEntry([]byte("not json"))
	assert.Error(t, err)
}
