package raft

import "time"

// PeerSnapshot is one row of the leader's per-peer replication table in an
// Inspect snapshot.
type PeerSnapshot struct {
	ID          string
	NextIndex   uint64
	MatchIndex  uint64
	Unreachable bool
}

// Snapshot is a point-in-time read-only operational view of a Node: its
// role, term, commit/applied indexes, and, for a leader, the full
// per-peer match/next replication table.
type Snapshot struct {
	NodeID       string
	Role         Role
	Term         uint64
	CommitIndex  uint64
	AppliedIndex uint64
	LastIndex    uint64
	LeaderHint   string
	LastContact  time.Time
	Peers        []PeerSnapshot
}

// Inspect returns a snapshot of the node's current role, term, commit
// progress, and (for a leader) per-peer replication state.
func (n *Node) Inspect() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()

	s := Snapshot{
		NodeID:       n.id,
		Role:         n.role,
		Term:         n.log.CurrentTerm(),
		CommitIndex:  n.log.CommitIndex(),
		AppliedIndex: n.log.AppliedIndex(),
		LastIndex:    n.log.LastIndex(),
		LeaderHint:   n.leaderID,
		LastContact:  n.lastContact,
	}
	if n.role == Leader {
		s.Peers = make([]PeerSnapshot, 0, len(n.peers))
		for id, p := range n.peers {
			s.Peers = append(s.Peers, PeerSnapshot{ID: id, NextIndex: p.nextIndex, MatchIndex: p.matchIndex, Unreachable: p.unreachable})
		}
	}
	return s
}
