// Package raft implements the Raft consensus state machine: role
// transitions (Follower/Candidate/Leader/Standby), leader election with
// pre-vote, log replication with per-peer backoff, commit index
// advancement, and single-step cluster reconfiguration with a
// joint-union quorum interlock. It consumes pkg/wal for durable storage,
// pkg/membership for cluster configuration, and pkg/transport for the
// network.
package raft
