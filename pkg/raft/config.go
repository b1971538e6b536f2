package raft

import "time"

// Options configures a Node's timing and replication behavior.
type Options struct {
	NodeID string

	// ElectionMin/ElectionMax bound the randomized per-round election
	// timeout draw.
	ElectionMin time.Duration
	ElectionMax time.Duration

	// HeartbeatThreshold is the fraction of the election timeout used as
	// the leader's heartbeat interval.
	HeartbeatThreshold float64

	// AggressiveLeaderStickiness, when true, keeps a follower from
	// upgrading to candidate while it has observed a heartbeat from the
	// current leader within the election interval, even if its own timer
	// happens to fire (e.g. due to scheduling jitter).
	AggressiveLeaderStickiness bool

	// MaxEntriesPerAppend bounds how many log entries a single
	// AppendEntries batch carries.
	MaxEntriesPerAppend int

	// ClockDriftBound is carried in Options for configuration purposes;
	// Node does not read it.
	ClockDriftBound time.Duration

	// RPCTimeout bounds a single unicast RPC attempt.
	RPCTimeout time.Duration

	// ReplicationBackoff is the retry triple used against unreachable
	// peers.
	ReplicationBackoff Backoff

	// EnablePreVote turns on the PreVote round before a real election.
	EnablePreVote bool

	// SnapshotThreshold is carried in Options for configuration purposes;
	// Node does not read it. WAL compaction is governed by
	// wal.Options.SnapshotCompactionThreshold.
	SnapshotThreshold int64
}

// DefaultOptions returns reasonable defaults for a LAN deployment.
func DefaultOptions(nodeID string) Options {
	return Options{
		NodeID:                     nodeID,
		ElectionMin:                150 * time.Millisecond,
		ElectionMax:                300 * time.Millisecond,
		HeartbeatThreshold:         0.5,
		AggressiveLeaderStickiness: true,
		MaxEntriesPerAppend:        256,
		ClockDriftBound:            50 * time.Millisecond,
		RPCTimeout:                 2 * time.Second,
		ReplicationBackoff:         DefaultBackoff(),
		EnablePreVote:              true,
		SnapshotThreshold:          10_000,
	}
}

func (o Options) heartbeatInterval() time.Duration {
	return time.Duration(float64(o.ElectionMin) * o.HeartbeatThreshold)
}
