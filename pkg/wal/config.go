package wal

// WriteMode controls how aggressively the state record and partition writes
// are flushed to stable storage.
type WriteMode int

const (
	// NoFlush leaves writes buffered in the OS page cache.
	NoFlush WriteMode = iota
	// AutoFlush fsyncs after every state transition.
	AutoFlush
	// WriteThrough fsyncs both the state record and the partition file
	// touched by the write before returning.
	WriteThrough
)

// CachePolicy selects the eviction discipline for the payload cache.
type CachePolicy int

const (
	CacheLRU CachePolicy = iota
	CacheLFU
)

// BackupCompression selects the compression level applied to snapshot
// payloads.
type BackupCompression int

const (
	CompressionNone BackupCompression = iota
	CompressionFast
	CompressionOptimal
)

// Options configures a Store. Open raises fields whose value would be
// unusable to a usable floor (see normalized): a zero RecordsPerPartition
// becomes 128, and BufferSize, MaxConcurrentReads, QueueCapacity and
// PayloadCacheSize are raised to 128, 2, 1 and 256 respectively, which
// differ from DefaultOptions' values for those fields.
type Options struct {
	DataDir string

	RecordsPerPartition  uint64
	InitialPartitionSize int64
	BufferSize           int
	WriteMode            WriteMode

	UseCaching       bool
	CachePolicy      CachePolicy
	PayloadCacheSize int

	IntegrityCheck bool
	ParallelIO     bool

	MaxConcurrentReads int64
	QueueCapacity      int

	BackupCompression BackupCompression

	// SnapshotCompactionThreshold: once commit_index - snapshot_index
	// exceeds this many entries, Commit triggers background compaction.
	// Zero disables automatic compaction.
	SnapshotCompactionThreshold uint64

	NodeID string
}

// DefaultOptions returns sane defaults for dataDir, matching the values
// enumerated in the external-interfaces configuration surface.
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:                     dataDir,
		RecordsPerPartition:         128,
		InitialPartitionSize:        0,
		BufferSize:                  4096,
		WriteMode:                   AutoFlush,
		UseCaching:                  true,
		CachePolicy:                 CacheLRU,
		PayloadCacheSize:            1024,
		IntegrityCheck:              true,
		ParallelIO:                  false,
		MaxConcurrentReads:          8,
		QueueCapacity:               256,
		BackupCompression:           CompressionFast,
		SnapshotCompactionThreshold: 10_000,
	}
}

func (o Options) normalized() Options {
	if o.RecordsPerPartition == 0 {
		o.RecordsPerPartition = 128
	}
	if o.BufferSize < 128 {
		o.BufferSize = 128
	}
	if o.MaxConcurrentReads < 2 {
		o.MaxConcurrentReads = 2
	}
	if o.QueueCapacity < 1 {
		o.QueueCapacity = 1
	}
	if o.PayloadCacheSize <= 0 {
		o.PayloadCacheSize = 256
	}
	return o
}
