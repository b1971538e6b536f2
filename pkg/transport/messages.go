// Package transport defines the capability surface a Raft node needs from
// the network: unicast request/reply RPCs. Large AppendEntries and
// InstallSnapshot bodies are carried whole in a single frame; this package
// defines no streaming or fragmenting frame types. pkg/raft depends only on the
// interfaces in this file; pkg/transport/tcp supplies one concrete
// implementation used by the demo binary and integration tests.
package transport

import "github.com/cuemby/raftcore/pkg/wal"

// VoteRequest is the RequestVote RPC argument.
type VoteRequest struct {
	Term         int64
	CandidateID  string
	LastLogIndex int64
	LastLogTerm  int64
}

// VoteReply is the RequestVote RPC result. Term never exceeds the
// responder's own current term at the moment of reply.
type VoteReply struct {
	Term        int64
	VoteGranted bool
}

// PreVoteRequest probes whether a majority would grant a real vote, without
// mutating the responder's persistent state.
type PreVoteRequest struct {
	Term         int64
	CandidateID  string
	LastLogIndex int64
	LastLogTerm  int64
}

// PreVoteReply carries the probe result.
type PreVoteReply struct {
	Term     int64
	Accepted bool
}

// AppendEntriesRequest replicates a batch of log entries, or serves as a
// heartbeat when Entries is empty.
type AppendEntriesRequest struct {
	Term                  int64
	LeaderID              string
	PrevLogIndex          int64
	PrevLogTerm           int64
	Entries               []wal.LogEntry
	CommitIndex           int64
	ConfigurationFingerprint uint64
}

// AppendEntriesReply reports whether replication succeeded, with an
// optional conflict hint the leader can use for exponential back-jump of
// next_index.
type AppendEntriesReply struct {
	Term         int64
	Success      bool
	ConflictIndex int64
	ConflictTerm  int64
}

// InstallSnapshotRequest transfers a full state-machine snapshot to a
// follower whose next_index has fallen behind the leader's retained log.
type InstallSnapshotRequest struct {
	Term                     int64
	LeaderID                 string
	LastIncludedIndex        int64
	LastIncludedTerm         int64
	ConfigurationFingerprint uint64
	Data                     []byte
}

// InstallSnapshotReply acknowledges a snapshot transfer.
type InstallSnapshotReply struct {
	Term int64
}

// ResignRequest asks a leader to step down immediately, used for planned
// leadership transfer.
type ResignRequest struct {
	Term int64
}

// ResignReply acknowledges a resignation request.
type ResignReply struct {
	Term      int64
	Resigned  bool
}

// SynchronizeRequest is a read-index probe: a leader confirms it is still
// leader (a quorum of peers still acknowledge its term) before serving a
// linearizable read.
type SynchronizeRequest struct {
	Term int64
}

// SynchronizeReply acknowledges a synchronize probe.
type SynchronizeReply struct {
	Term int64
	Ok   bool
}

// ConfigurationProposeRequest asks the current leader to propose a cluster
// configuration change. Non-leaders reply with a leader hint.
type ConfigurationProposeRequest struct {
	Members []ConfigurationMember
}

// ConfigurationMember is the wire shape of a membership.Member, kept
// independent of the membership package so transport has no import-cycle
// risk with it.
type ConfigurationMember struct {
	ID      string
	Address string
	Standby bool
}

// ConfigurationProposeReply reports whether the proposal was accepted.
type ConfigurationProposeReply struct {
	Accepted   bool
	LeaderHint string
}
