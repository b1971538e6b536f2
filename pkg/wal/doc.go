// Package wal implements the partitioned, crash-consistent write-ahead log
// that backs a Raft log: entries are appended into fixed-size partition
// files, a compact state record tracks commit progress across restarts, and
// snapshots let old partitions be reclaimed once the state machine has
// consumed everything up to a point.
package wal
