package raft

import "errors"

// ErrNotLeader is returned by Propose when the node does not currently
// believe itself to be the leader.
var ErrNotLeader = errors.New("raft: not the leader")
