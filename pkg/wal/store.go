package wal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cuemby/raftcore/pkg/log"
	"github.com/cuemby/raftcore/pkg/metrics"
	"github.com/cuemby/raftcore/pkg/syncx"
)

// StateMachine is the capability the WAL applies committed entries to. It is
// declared here (consumer side) so pkg/statemachine can depend on pkg/wal
// without pkg/wal ever importing pkg/statemachine.
type StateMachine interface {
	Apply(entry LogEntry) error
	Snapshot() ([]byte, error)
	Restore(payload []byte) error
}

// ReadItem is what Read's consumer callback receives: either the snapshot
// (when the requested range starts at or before snapshot_index) or a single
// log entry.
type ReadItem struct {
	Snapshot *Snapshot
	Entry    *LogEntry
}

// Store is the partitioned, crash-consistent write-ahead log described by
// the data model: a dense per-partition metadata table, payloads appended
// after a cursor, a fixed-size state record, and an optional snapshot.
type Store struct {
	opts Options
	sm   StateMachine

	// syncRoot bounds concurrent readers to MaxConcurrentReads (weak) and
	// serializes appends/commits/snapshot installs (strong).
	syncRoot *syncx.SharedLock
	// partitionsLock is the additional exclusive-strong lock snapshot
	// install takes on the partition index tables, per spec 4.4.
	partitionsLock *syncx.SharedLock

	appendGate chan struct{}

	partitions map[uint64]*partition
	cache      payloadCache

	lastIndex         uint64
	commitIndex       uint64
	appliedIndex      uint64
	lastTerm          uint64
	currentTerm       uint64
	votedFor          string
	configFingerprint uint64
	snapshot          *Snapshot

	drained bool
	closed  bool
}

// Open creates or recovers a Store rooted at opts.DataDir.
func Open(opts Options, sm StateMachine) (*Store, error) {
	opts = opts.normalized()
	if err := os.MkdirAll(opts.DataDir+"/partitions", 0o755); err != nil {
		return nil, fmt.Errorf("wal: create data dir: %w", err)
	}

	state, existed, err := loadState(opts.DataDir)
	if err != nil {
		return nil, err
	}
	snap, err := readSnapshot(opts.DataDir)
	if err != nil {
		return nil, err
	}

	s := &Store{
		opts:              opts,
		sm:                sm,
		syncRoot:          syncx.NewSharedLock(opts.MaxConcurrentReads),
		partitionsLock:    syncx.NewSharedLock(1),
		appendGate:        make(chan struct{}, opts.QueueCapacity),
		partitions:        make(map[uint64]*partition),
		cache:             newPayloadCache(opts.CachePolicy, opts.PayloadCacheSize),
		lastIndex:         state.LastIndex,
		commitIndex:       state.CommitIndex,
		lastTerm:          state.LastTerm,
		currentTerm:       state.CurrentTerm,
		votedFor:          state.VotedFor,
		configFingerprint: state.ConfigurationFingerprint,
		snapshot:          snap,
	}

	if opts.NodeID != "" {
		s.votedFor = state.VotedFor
	}

	if !existed {
		// Brand-new store: seed the sentinel zero-term entry at index 0.
		if _, err := s.ensurePartition(0); err != nil {
			return nil, err
		}
		if err := s.partitions[0].writeEntry(0, LogEntry{Term: 0, Index: 0, Timestamp: time.Unix(0, 0)}); err != nil {
			return nil, err
		}
	} else if err := s.reconcileOnOpen(); err != nil {
		return nil, err
	}

	return s, nil
}

// reconcileOnOpen validates the recorded last_index against what the newest
// partition actually holds, truncating a torn write unless IntegrityCheck
// demands that mismatch be treated as fatal corruption.
func (s *Store) reconcileOnOpen() error {
	if s.lastIndex == 0 {
		return nil
	}
	p, err := s.ensurePartition(s.lastIndex / s.opts.RecordsPerPartition)
	if err != nil {
		return err
	}
	slot := s.lastIndex % s.opts.RecordsPerPartition
	m, err := p.readMetadata(slot)
	if err != nil {
		return err
	}
	if m.occupied() && (m.Term != 0 || s.lastIndex == 0) {
		s.lastTerm = uint64(m.Term)
		return nil
	}
	if s.opts.IntegrityCheck {
		return &CorruptionError{Reason: fmt.Sprintf("recorded last_index %d missing from partition", s.lastIndex)}
	}
	// Torn write: walk backward to the last actually-occupied slot.
	log.WithComponent("wal").Warn().Uint64("recorded_last_index", s.lastIndex).Msg("reconciling torn write on open")
	for idx := s.lastIndex; idx > 0; idx-- {
		pn := idx / s.opts.RecordsPerPartition
		pp, err := s.ensurePartition(pn)
		if err != nil {
			return err
		}
		mm, err := pp.readMetadata(idx % s.opts.RecordsPerPartition)
		if err != nil {
			return err
		}
		if mm.occupied() {
			s.lastIndex = idx
			s.lastTerm = uint64(mm.Term)
			return nil
		}
	}
	s.lastIndex, s.lastTerm = 0, 0
	return nil
}

func (s *Store) ensurePartition(number uint64) (*partition, error) {
	if p, ok := s.partitions[number]; ok {
		return p, nil
	}
	p, err := openPartition(s.opts.DataDir, number, s.opts.RecordsPerPartition, s.opts.InitialPartitionSize)
	if err != nil {
		return nil, err
	}
	s.partitions[number] = p
	metrics.WALPartitionsTotal.Set(float64(len(s.partitions)))
	return p, nil
}

func (s *Store) partitionAndSlot(index uint64) uint64 {
	return index / s.opts.RecordsPerPartition
}

// Append appends entries starting at startIndex. If nonBlocking is true and
// the internal backpressure queue is full, it returns ErrBusy instead of
// waiting for space.
func (s *Store) Append(ctx context.Context, entries []LogEntry, startIndex uint64, skipCommitted, nonBlocking bool) (uint64, error) {
	if s.drained {
		return 0, ErrDrained
	}
	if s.closed {
		return 0, ErrClosed
	}
	if len(entries) == 0 {
		return s.lastIndex, nil
	}

	if err := s.acquireAppendGate(ctx, nonBlocking); err != nil {
		return 0, err
	}
	defer func() { <-s.appendGate }()

	timer := metrics.NewTimer()
	if err := s.syncRoot.AcquireStrong(ctx); err != nil {
		return 0, err
	}
	defer s.syncRoot.ReleaseStrong()

	expected := s.lastIndex + 1
	if startIndex != expected {
		if !skipCommitted || startIndex > s.commitIndex+1 {
			return 0, &OutOfOrderError{Expected: expected, Got: startIndex}
		}
		if err := s.validateOverlapLocked(entries, startIndex); err != nil {
			return 0, err
		}
		if err := s.truncateTailLocked(startIndex); err != nil {
			return 0, err
		}
	}

	for i, e := range entries {
		idx := startIndex + uint64(i)
		e.Index = idx
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now()
		}
		pn := s.partitionAndSlot(idx)
		p, err := s.ensurePartition(pn)
		if err != nil {
			return 0, err
		}
		if err := p.writeEntry(idx%s.opts.RecordsPerPartition, e); err != nil {
			return 0, err
		}
		if s.opts.WriteMode == WriteThrough {
			if err := p.sync(); err != nil {
				return 0, fmt.Errorf("wal: sync partition on write-through: %w", err)
			}
		}
		s.cache.put(idx, e.Payload)
		s.lastIndex = idx
		s.lastTerm = e.Term
	}

	if err := s.persistStateLocked(); err != nil {
		return 0, err
	}
	timer.ObserveDuration(metrics.WALAppendDuration)
	metrics.WALLastIndex.Set(float64(s.lastIndex))
	return s.lastIndex, nil
}

func (s *Store) acquireAppendGate(ctx context.Context, nonBlocking bool) error {
	if nonBlocking {
		select {
		case s.appendGate <- struct{}{}:
			return nil
		default:
			return ErrBusy
		}
	}
	select {
	case s.appendGate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// validateOverlapLocked checks that entries overlapping the already
// committed region match the terms already on disk, refusing to silently
// rewrite committed history.
func (s *Store) validateOverlapLocked(entries []LogEntry, startIndex uint64) error {
	for i, e := range entries {
		idx := startIndex + uint64(i)
		if idx > s.commitIndex {
			break
		}
		existing, err := s.getEntryLocked(idx)
		if err != nil {
			return err
		}
		if existing.Term != e.Term {
			return fmt.Errorf("wal: %w: index %d has committed term %d, got %d", ErrAlreadyCommitted, idx, existing.Term, e.Term)
		}
	}
	return nil
}

// truncateTailLocked drops the uncommitted tail from index onward so the
// subsequent write in Append starts clean.
func (s *Store) truncateTailLocked(index uint64) error {
	if index > s.lastIndex {
		return nil
	}
	touched := make(map[uint64]uint64) // partition number -> earliest slot to clear
	for idx := index; idx <= s.lastIndex; idx++ {
		pn := s.partitionAndSlot(idx)
		slot := idx % s.opts.RecordsPerPartition
		if cur, ok := touched[pn]; !ok || slot < cur {
			touched[pn] = slot
		}
		s.cache.remove(idx)
	}
	for pn, slot := range touched {
		p, err := s.ensurePartition(pn)
		if err != nil {
			return err
		}
		if err := p.clearFrom(slot); err != nil {
			return err
		}
	}
	if index == 0 {
		s.lastIndex, s.lastTerm = 0, 0
		return nil
	}
	s.lastIndex = index - 1
	last, err := s.getEntryLocked(s.lastIndex)
	if err == nil {
		s.lastTerm = last.Term
	}
	return nil
}

// Read invokes consumer once per item in the requested range, in index
// order, starting with the snapshot if fromIndex falls within it.
func (s *Store) Read(ctx context.Context, fromIndex, toIndex uint64, consumer func(ReadItem) error) error {
	if err := s.syncRoot.AcquireWeak(ctx); err != nil {
		return err
	}
	defer s.syncRoot.ReleaseWeak()

	start := fromIndex
	if s.snapshot != nil && fromIndex <= s.snapshot.Index {
		if err := consumer(ReadItem{Snapshot: s.snapshot}); err != nil {
			return err
		}
		start = s.snapshot.Index + 1
	}
	for idx := start; idx <= toIndex && idx <= s.lastIndex; idx++ {
		entry, err := s.getEntryLocked(idx)
		if err != nil {
			var corrupt *CorruptionError
			if errors.As(err, &corrupt) {
				s.Drain(corrupt.Error())
			}
			return err
		}
		if err := consumer(ReadItem{Entry: &entry}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) getEntryLocked(index uint64) (LogEntry, error) {
	if payload, ok := s.cache.get(index); ok {
		pn := s.partitionAndSlot(index)
		p, err := s.ensurePartition(pn)
		if err != nil {
			return LogEntry{}, err
		}
		m, err := p.readMetadata(index % s.opts.RecordsPerPartition)
		if err != nil {
			return LogEntry{}, err
		}
		return entryFromMetadata(index, m, payload), nil
	}

	pn := s.partitionAndSlot(index)
	p, err := s.ensurePartition(pn)
	if err != nil {
		return LogEntry{}, err
	}
	m, err := p.readMetadata(index % s.opts.RecordsPerPartition)
	if err != nil {
		return LogEntry{}, err
	}
	if !m.occupied() {
		return LogEntry{}, &CorruptionError{Reason: fmt.Sprintf("index %d not present", index)}
	}
	payload, err := p.readPayload(m)
	if err != nil {
		return LogEntry{}, err
	}
	entry := entryFromMetadata(index, m, payload)
	s.cache.put(index, payload)
	return entry, nil
}

// Commit advances the commit index to min(upToIndex, last_index), applying
// newly committed entries to the state machine in order, and returns how
// many were applied.
func (s *Store) Commit(ctx context.Context, upToIndex uint64) (int, error) {
	if s.drained {
		return 0, ErrDrained
	}
	timer := metrics.NewTimer()
	if err := s.syncRoot.AcquireStrong(ctx); err != nil {
		return 0, err
	}
	defer s.syncRoot.ReleaseStrong()

	newCommit := upToIndex
	if newCommit > s.lastIndex {
		newCommit = s.lastIndex
	}
	if newCommit <= s.commitIndex {
		return 0, nil
	}

	applied := 0
	for idx := s.commitIndex + 1; idx <= newCommit; idx++ {
		entry, err := s.getEntryLocked(idx)
		if err != nil {
			return applied, err
		}
		if s.sm != nil {
			if err := s.sm.Apply(entry); err != nil {
				return applied, fmt.Errorf("wal: apply index %d: %w", idx, err)
			}
		}
		s.appliedIndex = idx
		applied++
	}
	s.commitIndex = newCommit
	if err := s.persistStateLocked(); err != nil {
		return applied, err
	}
	timer.ObserveDuration(metrics.WALCommitDuration)

	if s.opts.SnapshotCompactionThreshold > 0 {
		snapIndex := uint64(0)
		if s.snapshot != nil {
			snapIndex = s.snapshot.Index
		}
		if s.commitIndex-snapIndex > s.opts.SnapshotCompactionThreshold {
			go s.triggerCompaction()
		}
	}
	return applied, nil
}

func (s *Store) triggerCompaction() {
	if s.sm == nil {
		return
	}
	payload, err := s.sm.Snapshot()
	if err != nil {
		log.WithComponent("wal").Error().Err(err).Msg("background compaction snapshot failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.InstallSnapshot(ctx, s.commitIndex, s.lastTerm, s.configFingerprint, newByteReader(payload)); err != nil {
		log.WithComponent("wal").Error().Err(err).Msg("background compaction install failed")
	}
}

// InstallSnapshot atomically writes the snapshot file and deletes every
// partition fully covered by it.
func (s *Store) InstallSnapshot(ctx context.Context, index, term, configFingerprint uint64, payloadReader io.Reader) error {
	payload, err := io.ReadAll(payloadReader)
	if err != nil {
		return fmt.Errorf("wal: read snapshot payload: %w", err)
	}

	if err := s.syncRoot.AcquireStrong(ctx); err != nil {
		return err
	}
	defer s.syncRoot.ReleaseStrong()
	if err := s.partitionsLock.AcquireStrong(ctx); err != nil {
		return err
	}
	defer s.partitionsLock.ReleaseStrong()

	snap := Snapshot{Index: index, Term: term, ConfigFingerprint: configFingerprint, StateMachinePayload: payload}
	if err := writeSnapshot(s.opts.DataDir, snap, s.opts.BackupCompression); err != nil {
		return err
	}
	s.snapshot = &snap
	if index > s.lastIndex {
		s.lastIndex = index
		s.lastTerm = term
	}
	if index > s.commitIndex {
		s.commitIndex = index
	}

	coveredUpTo := index / s.opts.RecordsPerPartition
	for number, p := range s.partitions {
		if number < coveredUpTo {
			if err := p.close(); err != nil {
				log.WithComponent("wal").Warn().Err(err).Msg("close partition during compaction")
			}
			_ = os.Remove(partitionPath(s.opts.DataDir, number))
			delete(s.partitions, number)
		}
	}
	metrics.WALPartitionsTotal.Set(float64(len(s.partitions)))
	metrics.WALSnapshotsInstalled.Inc()

	return s.persistStateLocked()
}

// DropEntriesStartingAt removes the uncommitted tail from index onward, for
// leader-enforced log reconciliation. It fails if index is at or before the
// commit index.
func (s *Store) DropEntriesStartingAt(ctx context.Context, index uint64) error {
	if err := s.syncRoot.AcquireStrong(ctx); err != nil {
		return err
	}
	defer s.syncRoot.ReleaseStrong()

	if index <= s.commitIndex {
		return ErrAlreadyCommitted
	}
	if err := s.truncateTailLocked(index); err != nil {
		return err
	}
	return s.persistStateLocked()
}

func (s *Store) persistStateLocked() error {
	rec := StateRecord{
		LastIndex:                s.lastIndex,
		CommitIndex:              s.commitIndex,
		LastTerm:                 s.lastTerm,
		CurrentTerm:              s.currentTerm,
		ConfigurationFingerprint: s.configFingerprint,
		NodeID:                   s.opts.NodeID,
		VotedFor:                 s.votedFor,
	}
	return saveState(s.opts.DataDir, rec, s.opts.WriteMode)
}

// SetTermAndVote persists the Raft term/vote pair, as required before
// responding to any RPC that observed a term change.
func (s *Store) SetTermAndVote(ctx context.Context, term uint64, votedFor string) error {
	if err := s.syncRoot.AcquireStrong(ctx); err != nil {
		return err
	}
	defer s.syncRoot.ReleaseStrong()
	s.currentTerm = term
	s.votedFor = votedFor
	return s.persistStateLocked()
}

// CurrentTerm, LastIndex, LastTerm, CommitIndex, AppliedIndex and VotedFor
// are cheap inspection accessors used by pkg/raft; they take the weak lock
// since they only read.
func (s *Store) CurrentTerm() uint64 { return s.snapshotUint64(func() uint64 { return s.currentTerm }) }
func (s *Store) VotedFor() string {
	var v string
	s.syncRoot.AcquireWeak(context.Background())
	v = s.votedFor
	s.syncRoot.ReleaseWeak()
	return v
}
func (s *Store) LastIndex() uint64    { return s.snapshotUint64(func() uint64 { return s.lastIndex }) }
func (s *Store) LastTerm() uint64     { return s.snapshotUint64(func() uint64 { return s.lastTerm }) }
func (s *Store) CommitIndex() uint64  { return s.snapshotUint64(func() uint64 { return s.commitIndex }) }
func (s *Store) AppliedIndex() uint64 { return s.snapshotUint64(func() uint64 { return s.appliedIndex }) }
func (s *Store) SnapshotIndex() uint64 {
	return s.snapshotUint64(func() uint64 {
		if s.snapshot == nil {
			return 0
		}
		return s.snapshot.Index
	})
}

func (s *Store) snapshotUint64(read func() uint64) uint64 {
	_ = s.syncRoot.AcquireWeak(context.Background())
	v := read()
	s.syncRoot.ReleaseWeak()
	return v
}

// Drained reports whether a fatal Corruption error has put the store into
// read-only mode.
func (s *Store) Drained() bool { return s.drained }

// Drain fatally marks the store as corrupted: it refuses further appends
// but continues to serve reads from the last good snapshot.
func (s *Store) Drain(reason string) {
	log.WithComponent("wal").Error().Str("reason", reason).Msg("WAL entering drained state")
	s.drained = true
	metrics.ReportWALHealth(true, reason)
}

// Close releases every open partition file.
func (s *Store) Close() error {
	s.closed = true
	s.syncRoot.Dispose()
	s.partitionsLock.Dispose()
	var firstErr error
	for _, p := range s.partitions {
		if err := p.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newByteReader(b []byte) io.Reader { return &byteReader{b: b} }

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
