package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Raft role / election metrics
	RaftIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftcore_is_leader",
			Help: "Whether this node is the current Raft leader (1 = leader, 0 = not)",
		},
	)

	RaftCurrentTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftcore_current_term",
			Help: "Current Raft term observed by this node",
		},
	)

	RaftElectionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raftcore_elections_started_total",
			Help: "Total number of candidate rounds started by this node",
		},
	)

	RaftVotesGranted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raftcore_votes_granted_total",
			Help: "Total number of votes this node has granted to candidates",
		},
	)

	RaftPeerMatchIndex = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raftcore_peer_match_index",
			Help: "Leader's view of each peer's match_index",
		},
		[]string{"peer"},
	)

	RaftCommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftcore_commit_index",
			Help: "Highest log index known to be committed",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftcore_applied_index",
			Help: "Highest log index applied to the state machine",
		},
	)

	RaftReplicationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raftcore_replication_duration_seconds",
			Help:    "Time taken for an AppendEntries round trip to a peer",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"peer"},
	)

	// WAL metrics
	WALLastIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftcore_wal_last_index",
			Help: "Highest index durably persisted in the WAL",
		},
	)

	WALAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raftcore_wal_append_duration_seconds",
			Help:    "Time taken to append entries to the WAL",
			Buckets: prometheus.DefBuckets,
		},
	)

	WALCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raftcore_wal_commit_duration_seconds",
			Help:    "Time taken to advance the WAL commit index",
			Buckets: prometheus.DefBuckets,
		},
	)

	WALCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raftcore_wal_cache_hits_total",
			Help: "Total number of WAL payload cache hits",
		},
	)

	WALCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raftcore_wal_cache_misses_total",
			Help: "Total number of WAL payload cache misses",
		},
	)

	WALPartitionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftcore_wal_partitions_total",
			Help: "Total number of partition files currently on disk",
		},
	)

	WALSnapshotsInstalled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raftcore_wal_snapshots_installed_total",
			Help: "Total number of snapshots installed",
		},
	)

	// Membership metrics
	MembershipFingerprint = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftcore_membership_fingerprint",
			Help: "Fingerprint of the active cluster configuration, truncated to a float-safe range",
		},
	)

	MembershipApplyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raftcore_membership_apply_total",
			Help: "Total number of configuration applies observed",
		},
	)

	// Synchronization primitive metrics
	LockContentionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftcore_lock_contention_total",
			Help: "Total number of acquisitions that had to queue behind another holder",
		},
		[]string{"lock", "mode"},
	)

	LockWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raftcore_lock_wait_duration_seconds",
			Help:    "Time spent queued before a lock was granted",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"lock", "mode"},
	)
)

func init() {
	prometheus.MustRegister(
		RaftIsLeader,
		RaftCurrentTerm,
		RaftElectionsStarted,
		RaftVotesGranted,
		RaftPeerMatchIndex,
		RaftCommitIndex,
		RaftAppliedIndex,
		RaftReplicationDuration,
		WALLastIndex,
		WALAppendDuration,
		WALCommitDuration,
		WALCacheHits,
		WALCacheMisses,
		WALPartitionsTotal,
		WALSnapshotsInstalled,
		MembershipFingerprint,
		MembershipApplyTotal,
		LockContentionTotal,
		LockWaitDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
