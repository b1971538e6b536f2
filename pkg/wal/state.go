package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
)

const (
	stateMagic      uint32 = 0x57414c53 // "WALS"
	stateVersion    uint32 = 1
	stateIDFieldLen        = 64
	stateRecordSize        = 4 + 4 + 8 + 8 + 8 + 8 + 8 + stateIDFieldLen + stateIDFieldLen + 4
)

// StateRecord is the crash-consistent, fixed-size record persisted to
// <data_dir>/state.bin: the WAL's durable view of commit progress and the
// Raft node's term/vote state. It is the single source of truth consulted on
// recovery to reconcile the newest partition's metadata table.
type StateRecord struct {
	LastIndex             uint64
	CommitIndex           uint64
	LastTerm              uint64
	CurrentTerm           uint64
	ConfigurationFingerprint uint64
	NodeID                string
	VotedFor              string // empty means "no vote cast this term"
}

func encodeState(s StateRecord) ([]byte, error) {
	if len(s.NodeID) >= stateIDFieldLen || len(s.VotedFor) >= stateIDFieldLen {
		return nil, fmt.Errorf("wal: node_id/voted_for must be under %d bytes", stateIDFieldLen)
	}
	buf := make([]byte, stateRecordSize)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], stateMagic)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], stateVersion)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], s.LastIndex)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], s.CommitIndex)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], s.LastTerm)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], s.CurrentTerm)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], s.ConfigurationFingerprint)
	off += 8
	copy(buf[off:off+stateIDFieldLen], s.NodeID)
	off += stateIDFieldLen
	copy(buf[off:off+stateIDFieldLen], s.VotedFor)
	off += stateIDFieldLen

	crc := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], crc)
	return buf, nil
}

func decodeState(buf []byte) (StateRecord, error) {
	if len(buf) != stateRecordSize {
		return StateRecord{}, &CorruptionError{Reason: "state record has wrong size"}
	}
	off := 0
	magic := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if magic != stateMagic {
		return StateRecord{}, &CorruptionError{Reason: "state record magic mismatch"}
	}
	off += 4 // version, unused for now
	s := StateRecord{}
	s.LastIndex = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	s.CommitIndex = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	s.LastTerm = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	s.CurrentTerm = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	s.ConfigurationFingerprint = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	s.NodeID = trimZero(buf[off : off+stateIDFieldLen])
	off += stateIDFieldLen
	s.VotedFor = trimZero(buf[off : off+stateIDFieldLen])
	off += stateIDFieldLen

	wantCRC := binary.LittleEndian.Uint32(buf[off:])
	gotCRC := crc32.ChecksumIEEE(buf[:off])
	if wantCRC != gotCRC {
		return StateRecord{}, &CorruptionError{Reason: "state record checksum mismatch"}
	}
	return s, nil
}

func trimZero(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func statePath(dataDir string) string { return dataDir + "/state.bin" }

// loadState reads and validates the state record. A missing file yields the
// zero-value record (a brand-new store); any other error is fatal.
func loadState(dataDir string) (StateRecord, bool, error) {
	buf, err := os.ReadFile(statePath(dataDir))
	if os.IsNotExist(err) {
		return StateRecord{}, false, nil
	}
	if err != nil {
		return StateRecord{}, false, fmt.Errorf("wal: read state: %w", err)
	}
	s, err := decodeState(buf)
	if err != nil {
		return StateRecord{}, false, err
	}
	return s, true, nil
}

// saveState writes the state record according to writeMode: NoFlush leaves
// it buffered at the OS page cache, AutoFlush and WriteThrough both fsync
// immediately (this implementation has no intermediate userspace buffer to
// distinguish them further; see DESIGN.md).
func saveState(dataDir string, s StateRecord, mode WriteMode) error {
	buf, err := encodeState(s)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(statePath(dataDir), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open state file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("wal: write state: %w", err)
	}
	if mode != NoFlush {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("wal: sync state: %w", err)
		}
	}
	return nil
}
