package raft

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftcore/pkg/membership"
	"github.com/cuemby/raftcore/pkg/wal"
)

// mkEntries builds consecutive log entries at the given term with indices
// from through to inclusive (the caller supplies the append start index
// separately).
func mkEntries(term uint64, from, to uint64) []wal.LogEntry {
	entries := make([]wal.LogEntry, 0, to-from+1)
	for i := from; i <= to; i++ {
		entries = append(entries, wal.LogEntry{Term: term, Index: i, Timestamp: time.Unix(0, int64(i)), Payload: []byte("x")})
	}
	return entries
}

// newLeaderForCommitMath builds a single Node forced into the Leader role
// with a hand-populated peer table, bypassing real elections so commit-index
// arithmetic can be tested in isolation.
func newLeaderForCommitMath(t *testing.T, voters []membership.Member) *Node {
	t.Helper()
	c := newTestCluster(t, 1)
	n := c.nodes["node-0"]

	cfg := membership.NewConfiguration(voters...)
	require.NoError(t, n.members.Propose(cfg))
	_, err := n.members.Apply()
	require.NoError(t, err)

	n.Start()
	t.Cleanup(n.Stop)

	n.mu.Lock()
	n.role = Leader
	n.peers = make(map[string]*peerState)
	for _, m := range voters {
		if m.ID == n.id {
			continue
		}
		n.peers[m.ID] = &peerState{}
	}
	n.mu.Unlock()
	return n
}

func TestLeaderCommitTarget_RequiresMajorityMatchAtCurrentTerm(t *testing.T) {
	voters := []membership.Member{{ID: "node-0", Address: "node-0:0"}, {ID: "b", Address: "b:0"}, {ID: "c", Address: "c:0"}}
	n := newLeaderForCommitMath(t, voters)

	require.NoError(t, n.log.SetTermAndVote(context.Background(), 3, n.id))
	entries := mkEntries(3, 1, 5)
	_, err := n.log.Append(context.Background(), entries, 1, false, false)
	require.NoError(t, err)

	n.mu.Lock()
	n.peers["b"].matchIndex = 5
	n.peers["c"].matchIndex = 0
	target := n.leaderCommitTargetLocked()
	n.mu.Unlock()

	// Only node-0 (self, at last_index=5) and b (5) are at index 5: a
	// majority of 3 is 2, so index 5 should be the commit target.
	assert.EqualValues(t, 5, target)
}

func TestLeaderCommitTarget_RefusesToCommitPriorTermEntriesDirectly(t *testing.T) {
	voters := []membership.Member{{ID: "node-0", Address: "node-0:0"}, {ID: "b", Address: "b:0"}, {ID: "c", Address: "c:0"}}
	n := newLeaderForCommitMath(t, voters)

	require.NoError(t, n.log.SetTermAndVote(context.Background(), 2, n.id))
	_, err := n.log.Append(context.Background(), mkEntries(2, 1, 3), 1, false, false)
	require.NoError(t, err)
	require.NoError(t, n.log.SetTermAndVote(context.Background(), 3, n.id))

	n.mu.Lock()
	n.peers["b"].matchIndex = 3
	n.peers["c"].matchIndex = 3
	target := n.leaderCommitTargetLocked()
	n.mu.Unlock()

	// A majority replicated index 3, but it was written at term 2 while the
	// leader's current term is now 3: the Raft commit rule forbids
	// committing it directly.
	assert.EqualValues(t, 0, target)
}

func TestLeaderCommitTarget_ExcludesStandbyFromQuorum(t *testing.T) {
	voters := []membership.Member{
		{ID: "node-0", Address: "node-0:0"},
		{ID: "b", Address: "b:0"},
		{ID: "standby-1", Address: "s1:0", Standby: true},
	}
	n := newLeaderForCommitMath(t, voters)

	require.NoError(t, n.log.SetTermAndVote(context.Background(), 1, n.id))
	_, err := n.log.Append(context.Background(), mkEntries(1, 1, 4), 1, false, false)
	require.NoError(t, err)

	n.mu.Lock()
	// Standby never acknowledges; with it excluded, node-0 (self) + b forms
	// a 2-of-2 voting quorum and should be enough to commit.
	n.peers["b"].matchIndex = 4
	n.peers["standby-1"].matchIndex = 0
	target := n.leaderCommitTargetLocked()
	n.mu.Unlock()

	assert.EqualValues(t, 4, target)
}

func TestVotingQuorumLocked_UsesUnionDuringReconfiguration(t *testing.T) {
	voters := []membership.Member{{ID: "node-0", Address: "node-0:0"}, {ID: "b", Address: "b:0"}}
	n := newLeaderForCommitMath(t, voters)

	oldCfg := n.members.Active()
	newCfg := membership.NewConfiguration(
		membership.Member{ID: "node-0", Address: "node-0:0"},
		membership.Member{ID: "c", Address: "c:0"},
	)

	n.mu.Lock()
	n.pendingCfg = &configChange{index: 10, old: oldCfg, new: newCfg}
	quorum := n.votingQuorumLocked()
	n.mu.Unlock()

	ids := make(map[string]bool)
	for _, m := range quorum {
		ids[m.ID] = true
	}
	assert.True(t, ids["node-0"])
	assert.True(t, ids["b"], "old configuration member must remain in the union quorum")
	assert.True(t, ids["c"], "new configuration member must be in the union quorum")
}

func TestMaybeFinalizeConfigChange_PromotesOnMajorityOfNewAlone(t *testing.T) {
	voters := []membership.Member{{ID: "node-0", Address: "node-0:0"}, {ID: "b", Address: "b:0"}}
	n := newLeaderForCommitMath(t, voters)

	oldCfg := n.members.Active()
	newCfg := membership.NewConfiguration(
		membership.Member{ID: "node-0", Address: "node-0:0"},
		membership.Member{ID: "c", Address: "c:0"},
		membership.Member{ID: "d", Address: "d:0"},
	)
	require.NoError(t, n.members.Propose(newCfg))

	n.mu.Lock()
	n.pendingCfg = &configChange{index: 1, old: oldCfg, new: newCfg}
	n.peers["c"] = &peerState{matchIndex: 1}
	n.peers["d"] = &peerState{matchIndex: 0}
	n.maybeFinalizeConfigChangeLocked()
	stillPending := n.pendingCfg != nil
	n.mu.Unlock()

	// node-0 (self, last_index>=1) + c (1) is a majority of {node-0,c,d}.
	assert.False(t, stillPending)
	assert.Equal(t, newCfg.Fingerprint(), n.members.Active().Fingerprint())
}

func TestMaybeFinalizeConfigChange_WaitsForMajorityOfNew(t *testing.T) {
	voters := []membership.Member{{ID: "node-0", Address: "node-0:0"}, {ID: "b", Address: "b:0"}}
	n := newLeaderForCommitMath(t, voters)

	oldCfg := n.members.Active()
	newCfg := membership.NewConfiguration(
		membership.Member{ID: "node-0", Address: "node-0:0"},
		membership.Member{ID: "c", Address: "c:0"},
		membership.Member{ID: "d", Address: "d:0"},
	)
	require.NoError(t, n.members.Propose(newCfg))

	n.mu.Lock()
	n.pendingCfg = &configChange{index: 5, old: oldCfg, new: newCfg}
	n.peers["c"] = &peerState{matchIndex: 0}
	n.peers["d"] = &peerState{matchIndex: 0}
	n.maybeFinalizeConfigChangeLocked()
	stillPending := n.pendingCfg != nil
	n.mu.Unlock()

	assert.True(t, stillPending)
	assert.NotEqual(t, newCfg.Fingerprint(), n.members.Active().Fingerprint())
}

func TestPropose_AppendsEntryAndReturnsItsIndex(t *testing.T) {
	voters := []membership.Member{{ID: "node-0", Address: "node-0:0"}, {ID: "b", Address: "b:0"}}
	n := newLeaderForCommitMath(t, voters)
	require.NoError(t, n.log.SetTermAndVote(context.Background(), 2, n.id))

	index, err := n.Propose(context.Background(), []byte("payload"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, index)
	assert.EqualValues(t, 1, n.log.LastIndex())
}

func TestPropose_RejectsWhenNotLeader(t *testing.T) {
	voters := []membership.Member{{ID: "node-0", Address: "node-0:0"}, {ID: "b", Address: "b:0"}}
	n := newLeaderForCommitMath(t, voters)

	n.mu.Lock()
	n.role = Follower
	n.mu.Unlock()

	_, err := n.Propose(context.Background(), []byte("payload"))
	assert.ErrorIs(t, err, ErrNotLeader)
}
