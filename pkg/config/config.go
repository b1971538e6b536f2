// Package config aggregates the tunables of every subsystem (WAL, raft,
// membership, transport, logging) into one structure a binary can populate
// from flags or a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/raftcore/pkg/log"
	"github.com/cuemby/raftcore/pkg/raft"
	"github.com/cuemby/raftcore/pkg/wal"
)

// Config is the top-level configuration for a raftcore node process.
type Config struct {
	NodeID  string `yaml:"node_id"`
	DataDir string `yaml:"data_dir"`

	BindAddr string `yaml:"bind_addr"`

	LogLevel    string `yaml:"log_level"`
	LogJSON     bool   `yaml:"log_json"`
	MetricsAddr string `yaml:"metrics_addr"`

	WAL  WALConfig  `yaml:"wal"`
	Raft RaftConfig `yaml:"raft"`
}

// WALConfig mirrors the subset of wal.Options a node operator tunes
// directly; the rest keep wal.DefaultOptions' values.
type WALConfig struct {
	RecordsPerPartition         uint64 `yaml:"records_per_partition"`
	BufferSize                  int    `yaml:"buffer_size"`
	UseCaching                  bool   `yaml:"use_caching"`
	PayloadCacheSize            int    `yaml:"payload_cache_size"`
	IntegrityCheck              bool   `yaml:"integrity_check"`
	ParallelIO                  bool   `yaml:"parallel_io"`
	SnapshotCompactionThreshold uint64 `yaml:"snapshot_compaction_threshold"`
}

// RaftConfig mirrors the subset of raft.Options a node operator tunes
// directly; the rest keep raft.DefaultOptions' values.
type RaftConfig struct {
	ElectionMin         time.Duration `yaml:"election_min"`
	ElectionMax         time.Duration `yaml:"election_max"`
	RPCTimeout          time.Duration `yaml:"rpc_timeout"`
	MaxEntriesPerAppend int           `yaml:"max_entries_per_append"`
	EnablePreVote       bool          `yaml:"enable_pre_vote"`
	SnapshotThreshold   int64         `yaml:"snapshot_threshold"`
}

// Default returns a Config with every field populated from wal/raft's own
// DefaultOptions, so a binary that never touches the config still runs with
// sane values.
func Default(nodeID, dataDir string) Config {
	walDefaults := wal.DefaultOptions(dataDir)
	raftDefaults := raft.DefaultOptions(nodeID)
	return Config{
		NodeID:      nodeID,
		DataDir:     dataDir,
		BindAddr:    "127.0.0.1:7946",
		LogLevel:    string(log.InfoLevel),
		MetricsAddr: "127.0.0.1:9090",
		WAL: WALConfig{
			RecordsPerPartition:         walDefaults.RecordsPerPartition,
			BufferSize:                  walDefaults.BufferSize,
			UseCaching:                  walDefaults.UseCaching,
			PayloadCacheSize:            walDefaults.PayloadCacheSize,
			IntegrityCheck:              walDefaults.IntegrityCheck,
			ParallelIO:                  walDefaults.ParallelIO,
			SnapshotCompactionThreshold: walDefaults.SnapshotCompactionThreshold,
		},
		Raft: RaftConfig{
			ElectionMin:         raftDefaults.ElectionMin,
			ElectionMax:         raftDefaults.ElectionMax,
			RPCTimeout:          raftDefaults.RPCTimeout,
			MaxEntriesPerAppend: raftDefaults.MaxEntriesPerAppend,
			EnablePreVote:       raftDefaults.EnablePreVote,
			SnapshotThreshold:   raftDefaults.SnapshotThreshold,
		},
	}
}

// BindFlags registers one flag on fs for each setting listed below, seeded
// with cfg's current values as defaults. Settings without a flag here (for
// example the WAL payload cache size, integrity check and parallel I/O) are
// set only from the defaults or a YAML file passed to Load.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.NodeID, "node-id", c.NodeID, "unique node identifier")
	fs.StringVar(&c.DataDir, "data-dir", c.DataDir, "data directory for WAL and state machine storage")
	fs.StringVar(&c.BindAddr, "bind-addr", c.BindAddr, "address for Raft peer communication")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "address for the metrics and health HTTP server")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&c.LogJSON, "log-json", c.LogJSON, "output logs in JSON format")

	fs.Uint64Var(&c.WAL.RecordsPerPartition, "wal-records-per-partition", c.WAL.RecordsPerPartition, "log entries per WAL partition file")
	fs.IntVar(&c.WAL.BufferSize, "wal-buffer-size", c.WAL.BufferSize, "WAL write buffer size in bytes")
	fs.BoolVar(&c.WAL.UseCaching, "wal-use-caching", c.WAL.UseCaching, "enable the WAL payload cache")
	fs.Uint64Var(&c.WAL.SnapshotCompactionThreshold, "wal-snapshot-threshold", c.WAL.SnapshotCompactionThreshold, "entries beyond the snapshot index before compaction runs")

	fs.DurationVar(&c.Raft.ElectionMin, "raft-election-min", c.Raft.ElectionMin, "minimum randomized election timeout")
	fs.DurationVar(&c.Raft.ElectionMax, "raft-election-max", c.Raft.ElectionMax, "maximum randomized election timeout")
	fs.DurationVar(&c.Raft.RPCTimeout, "raft-rpc-timeout", c.Raft.RPCTimeout, "timeout for a single unicast RPC attempt")
	fs.IntVar(&c.Raft.MaxEntriesPerAppend, "raft-max-entries-per-append", c.Raft.MaxEntriesPerAppend, "max log entries per AppendEntries batch")
	fs.BoolVar(&c.Raft.EnablePreVote, "raft-enable-pre-vote", c.Raft.EnablePreVote, "enable the PreVote round before an election")
	fs.Int64Var(&c.Raft.SnapshotThreshold, "raft-snapshot-threshold", c.Raft.SnapshotThreshold, "raft.Options.SnapshotThreshold; the node does not read it (WAL compaction follows --wal-snapshot-threshold)")
}

// Load reads a YAML config file at path and overlays it onto a copy of cfg,
// so fields the file omits keep their prior (default or flag-bound) values.
func Load(path string, cfg Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// WALOptions materializes wal.Options for c, starting from wal.DefaultOptions
// so any field c.WAL doesn't cover keeps a sane default.
func (c Config) WALOptions() wal.Options {
	opts := wal.DefaultOptions(c.DataDir)
	opts.NodeID = c.NodeID
	opts.RecordsPerPartition = c.WAL.RecordsPerPartition
	opts.BufferSize = c.WAL.BufferSize
	opts.UseCaching = c.WAL.UseCaching
	opts.PayloadCacheSize = c.WAL.PayloadCacheSize
	opts.IntegrityCheck = c.WAL.IntegrityCheck
	opts.ParallelIO = c.WAL.ParallelIO
	opts.SnapshotCompactionThreshold = c.WAL.SnapshotCompactionThreshold
	return opts
}

// RaftOptions materializes raft.Options for c, starting from
// raft.DefaultOptions so any field c.Raft doesn't cover keeps a sane default.
func (c Config) RaftOptions() raft.Options {
	opts := raft.DefaultOptions(c.NodeID)
	opts.ElectionMin = c.Raft.ElectionMin
	opts.ElectionMax = c.Raft.ElectionMax
	opts.RPCTimeout = c.Raft.RPCTimeout
	opts.MaxEntriesPerAppend = c.Raft.MaxEntriesPerAppend
	opts.EnablePreVote = c.Raft.EnablePreVote
	opts.SnapshotThreshold = c.Raft.SnapshotThreshold
	return opts
}

// MembershipPath returns the file path where a node persists its active
// cluster configuration.
func (c Config) MembershipPath() string {
	return filepath.Join(c.DataDir, "membership.yaml")
}

// LogConfig materializes a pkg/log.Config for c.
func (c Config) LogConfig() log.Config {
	level := log.Level(c.LogLevel)
	switch level {
	case log.TraceLevel, log.DebugLevel, log.InfoLevel, log.WarnLevel, log.ErrorLevel:
	default:
		level = log.InfoLevel
	}
	return log.Config{Level: level, JSONOutput: c.LogJSON}
}
