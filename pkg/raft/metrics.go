package raft

import (
	"time"

	"github.com/cuemby/raftcore/pkg/metrics"
)

// MetricsCollector periodically publishes a Node's Inspect snapshot to
// Prometheus: collect immediately, then on a fixed tick, until Stop
// closes stopCh.
type MetricsCollector struct {
	n        *Node
	interval time.Duration
	stopCh   chan struct{}
}

// NewMetricsCollector returns a collector sampling n every interval. A
// non-positive interval defaults to 5 seconds.
func NewMetricsCollector(n *Node, interval time.Duration) *MetricsCollector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &MetricsCollector{n: n, interval: interval, stopCh: make(chan struct{})}
}

// Start begins the collection loop in a background goroutine.
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collection loop.
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

// leaderlessUnhealthyAfter bounds how long a follower may go without
// leader contact before the raft component is reported unhealthy rather
// than merely degraded; past this an election is very unlikely to still
// be legitimately in flight.
const leaderlessUnhealthyAfter = 30 * time.Second

func (c *MetricsCollector) collect() {
	snap := c.n.Inspect()

	metrics.RaftCurrentTerm.Set(float64(snap.Term))
	metrics.RaftCommitIndex.Set(float64(snap.CommitIndex))
	metrics.RaftAppliedIndex.Set(float64(snap.AppliedIndex))
	if snap.Role == Leader {
		metrics.RaftIsLeader.Set(1)
	} else {
		metrics.RaftIsLeader.Set(0)
	}
	for _, p := range snap.Peers {
		metrics.RaftPeerMatchIndex.WithLabelValues(p.ID).Set(float64(p.MatchIndex))
	}

	if snap.Role == Leader {
		var stalled []string
		for _, p := range snap.Peers {
			if p.Unreachable {
				stalled = append(stalled, p.ID)
			}
		}
		metrics.ReportReplicationHealth(stalled, len(snap.Peers))
		return
	}

	var sinceLastLeader time.Duration
	if !snap.LastContact.IsZero() {
		sinceLastLeader = time.Since(snap.LastContact)
	}
	metrics.ReportLeaderless(sinceLastLeader, leaderlessUnhealthyAfter)
}
