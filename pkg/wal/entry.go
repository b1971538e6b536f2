package wal

import (
	"encoding/binary"
	"time"
)

// metadataRecordSize is the fixed, compile-time-known size in bytes of an
// encoded LogEntryMetadata record. Laid out by hand with explicit
// little-endian byte-slice operations rather than encoding/binary.Write's
// reflection-based struct encoding, so partition files hold a dense,
// bit-exact metadata table whose per-slot offset is a pure arithmetic
// function of the log index.
const metadataRecordSize = 40

// LogEntryMetadata is the fixed-size on-disk record describing where and
// what a single log entry's payload is within a partition file.
type LogEntryMetadata struct {
	Offset    int64 // byte offset of the payload within the partition's payload region
	Length    int64 // payload length in bytes
	Term      int64
	Timestamp int64 // unix nanoseconds
	CommandID int32 // -1 means "none"
	Flags     uint8
}

const (
	flagSnapshotMarker uint8 = 1 << 0
	flagOccupied       uint8 = 1 << 1
)

func (m LogEntryMetadata) isSnapshot() bool { return m.Flags&flagSnapshotMarker != 0 }
func (m LogEntryMetadata) occupied() bool   { return m.Flags&flagOccupied != 0 }

func encodeMetadata(m LogEntryMetadata, buf []byte) {
	_ = buf[metadataRecordSize-1]
	binary.LittleEndian.PutUint64(buf[0:8], uint64(m.Offset))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(m.Length))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(m.Term))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(m.Timestamp))
	binary.LittleEndian.PutUint32(buf[32:36], uint32(m.CommandID))
	buf[36] = m.Flags
	buf[37], buf[38], buf[39] = 0, 0, 0 // reserved padding
}

func decodeMetadata(buf []byte) LogEntryMetadata {
	_ = buf[metadataRecordSize-1]
	return LogEntryMetadata{
		Offset:    int64(binary.LittleEndian.Uint64(buf[0:8])),
		Length:    int64(binary.LittleEndian.Uint64(buf[8:16])),
		Term:      int64(binary.LittleEndian.Uint64(buf[16:24])),
		Timestamp: int64(binary.LittleEndian.Uint64(buf[24:32])),
		CommandID: int32(binary.LittleEndian.Uint32(buf[32:36])),
		Flags:     buf[36],
	}
}

// LogEntry is the in-memory, immutable-once-persisted view of a single Raft
// log entry. It is owned by the WAL; callers obtain entries through Read and
// must not mutate Payload in place.
type LogEntry struct {
	Term       uint64
	Index      uint64
	Timestamp  time.Time
	CommandID  *uint32
	Payload    []byte
	IsSnapshot bool
}

func (e LogEntry) toMetadata(offset int64) LogEntryMetadata {
	cmdID := int32(-1)
	if e.CommandID != nil {
		cmdID = int32(*e.CommandID)
	}
	flags := flagOccupied
	if e.IsSnapshot {
		flags |= flagSnapshotMarker
	}
	return LogEntryMetadata{
		Offset:    offset,
		Length:    int64(len(e.Payload)),
		Term:      int64(e.Term),
		Timestamp: e.Timestamp.UnixNano(),
		CommandID: cmdID,
		Flags:     flags,
	}
}

func entryFromMetadata(index uint64, m LogEntryMetadata, payload []byte) LogEntry {
	e := LogEntry{
		Term:       uint64(m.Term),
		Index:      index,
		Timestamp:  time.Unix(0, m.Timestamp),
		Payload:    payload,
		IsSnapshot: m.isSnapshot(),
	}
	if m.CommandID >= 0 {
		v := uint32(m.CommandID)
		e.CommandID = &v
	}
	return e
}
