/*
Package metrics provides Prometheus metrics collection and exposition for a
raftcore node.

It registers the node's Raft and WAL gauges/counters against the default
Prometheus registry at package init, and exposes them for scraping via
Handler(). HealthHandler, ReadyHandler and LivenessHandler serve a small
JSON health document built from component statuses registered with
RegisterComponent, the same three-endpoint shape container orchestrators
expect from a long-running process.

# Raft metrics

  - raftcore_is_leader: whether this node is the current leader
  - raftcore_current_term: current Raft term
  - raftcore_elections_started_total, raftcore_votes_granted_total
  - raftcore_peer_match_index: leader's view of each peer's match_index
  - raftcore_commit_index, raftcore_applied_index

See metrics.go for the full gauge/counter set and raft.MetricsCollector for
how a Node publishes Inspect() snapshots into these metrics on a timer.
*/
package metrics
