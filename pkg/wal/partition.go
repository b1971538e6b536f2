package wal

import (
	"encoding/binary"
	"fmt"
	"os"
)

const (
	partitionMagic      uint32 = 0x57414c50 // "WALP"
	partitionHeaderSize int64  = 16
)

// partition is a single file holding the contiguous index range
// [first, first+n). Its metadata table lives at a fixed offset; payloads are
// appended after a monotonically increasing cursor. All I/O uses ReadAt /
// WriteAt (pread/pwrite) so concurrent readers never need to coordinate file
// position with the writer — the outer Store's lock still serializes writes,
// but reads never block on it for the duration of the syscall.
type partition struct {
	number uint64
	first  uint64
	n      uint64
	f      *os.File

	payloadCursor int64
}

func partitionPath(dataDir string, number uint64) string {
	return fmt.Sprintf("%s/partitions/%d.dat", dataDir, number)
}

func metadataTableOffset() int64 { return partitionHeaderSize }

func payloadRegionOffset(n uint64) int64 {
	return partitionHeaderSize + int64(n)*metadataRecordSize
}

// openPartition opens or creates the partition file for the given partition
// number. initialSize pre-allocates the payload region to amortize growth,
// per the initial_partition_size option.
func openPartition(dataDir string, number, n uint64, initialSize int64) (*partition, error) {
	path := partitionPath(dataDir, number)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open partition %d: %w", number, err)
	}

	p := &partition{number: number, first: number * n, n: n, f: f}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: stat partition %d: %w", number, err)
	}

	minSize := payloadRegionOffset(n)
	if stat.Size() < minSize {
		if err := p.initHeader(minSize + initialSize); err != nil {
			f.Close()
			return nil, err
		}
		return p, nil
	}

	if err := p.recoverPayloadCursor(); err != nil {
		f.Close()
		return nil, err
	}
	return p, nil
}

func (p *partition) initHeader(truncateTo int64) error {
	var hdr [partitionHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], partitionMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], 1)
	binary.LittleEndian.PutUint64(hdr[8:16], p.n)
	if _, err := p.f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("wal: write partition header: %w", err)
	}
	if truncateTo > 0 {
		if err := p.f.Truncate(truncateTo); err != nil {
			return fmt.Errorf("wal: preallocate partition: %w", err)
		}
	}
	p.payloadCursor = 0
	return nil
}

// recoverPayloadCursor scans the metadata table of an existing partition and
// sets payloadCursor just past the highest occupied slot's payload, so
// subsequent appends never overwrite existing data after a crash restart.
func (p *partition) recoverPayloadCursor() error {
	buf := make([]byte, metadataRecordSize)
	var cursor int64
	for slot := uint64(0); slot < p.n; slot++ {
		if _, err := p.f.ReadAt(buf, metadataTableOffset()+int64(slot)*metadataRecordSize); err != nil {
			break
		}
		m := decodeMetadata(buf)
		if !m.occupied() {
			continue
		}
		if end := m.Offset + m.Length; end > cursor {
			cursor = end
		}
	}
	p.payloadCursor = cursor
	return nil
}

// writeEntry writes the entry's payload and metadata for the given slot
// (index - first), advancing the payload cursor.
func (p *partition) writeEntry(slot uint64, e LogEntry) error {
	offset := p.payloadCursor
	if len(e.Payload) > 0 {
		if _, err := p.f.WriteAt(e.Payload, payloadRegionOffset(p.n)+offset); err != nil {
			return fmt.Errorf("wal: write payload: %w", err)
		}
	}
	m := e.toMetadata(offset)
	var buf [metadataRecordSize]byte
	encodeMetadata(m, buf[:])
	if _, err := p.f.WriteAt(buf[:], metadataTableOffset()+int64(slot)*metadataRecordSize); err != nil {
		return fmt.Errorf("wal: write metadata slot %d: %w", slot, err)
	}
	p.payloadCursor += int64(len(e.Payload))
	return nil
}

func (p *partition) readMetadata(slot uint64) (LogEntryMetadata, error) {
	var buf [metadataRecordSize]byte
	if _, err := p.f.ReadAt(buf[:], metadataTableOffset()+int64(slot)*metadataRecordSize); err != nil {
		return LogEntryMetadata{}, fmt.Errorf("wal: read metadata slot %d: %w", slot, err)
	}
	return decodeMetadata(buf[:]), nil
}

func (p *partition) readPayload(m LogEntryMetadata) ([]byte, error) {
	if m.Length == 0 {
		return nil, nil
	}
	buf := make([]byte, m.Length)
	if _, err := p.f.ReadAt(buf, payloadRegionOffset(p.n)+m.Offset); err != nil {
		return nil, fmt.Errorf("wal: read payload: %w", err)
	}
	return buf, nil
}

// clearFrom marks every slot from slot onward as unoccupied, used by
// drop_entries_starting_at. Payload bytes are left in place (unreachable,
// since the cleared metadata no longer references them) rather than
// reclaimed, so truncation is one small metadata write per cleared slot.
func (p *partition) clearFrom(slot uint64) error {
	var zero [metadataRecordSize]byte
	for s := slot; s < p.n; s++ {
		if _, err := p.f.WriteAt(zero[:], metadataTableOffset()+int64(s)*metadataRecordSize); err != nil {
			return fmt.Errorf("wal: clear metadata slot %d: %w", s, err)
		}
	}
	return nil
}

func (p *partition) sync() error {
	return p.f.Sync()
}

func (p *partition) close() error {
	return p.f.Close()
}
