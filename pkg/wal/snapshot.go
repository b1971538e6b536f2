package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/klauspost/compress/zstd"
)

const (
	snapshotMagic      uint32 = 0x57414c4e // "WALN"
	snapshotHeaderSize int64  = 4 + 4 + 8 + 8 + 8 + 1 + 8 + 4 // magic,version,index,term,fingerprint,compression,len,crc32
)

// Snapshot is the decoded form of <data_dir>/snapshot.bin. When present it
// logically represents every entry with Index <= Index; those partitions may
// be deleted.
type Snapshot struct {
	Index               uint64
	Term                uint64
	ConfigFingerprint   uint64
	StateMachinePayload []byte
}

func snapshotPath(dataDir string) string { return dataDir + "/snapshot.bin" }

// writeSnapshot atomically replaces the snapshot file: it writes to a
// temporary file and renames it into place, so a crash mid-write never
// leaves a torn snapshot behind.
func writeSnapshot(dataDir string, snap Snapshot, compression BackupCompression) error {
	payload, err := compressPayload(snap.StateMachinePayload, compression)
	if err != nil {
		return fmt.Errorf("wal: compress snapshot: %w", err)
	}

	buf := make([]byte, snapshotHeaderSize+int64(len(payload)))
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], snapshotMagic)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], 1)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], snap.Index)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], snap.Term)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], snap.ConfigFingerprint)
	off += 8
	buf[off] = byte(compression)
	off++
	binary.LittleEndian.PutUint64(buf[off:], uint64(len(snap.StateMachinePayload)))
	off += 8
	crc := crc32.ChecksumIEEE(snap.StateMachinePayload)
	binary.LittleEndian.PutUint32(buf[off:], crc)
	off += 4
	copy(buf[off:], payload)

	tmp := snapshotPath(dataDir) + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("wal: write snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, snapshotPath(dataDir)); err != nil {
		return fmt.Errorf("wal: rename snapshot into place: %w", err)
	}
	return fsyncParent(dataDir)
}

func readSnapshot(dataDir string) (*Snapshot, error) {
	buf, err := os.ReadFile(snapshotPath(dataDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wal: read snapshot: %w", err)
	}
	if int64(len(buf)) < snapshotHeaderSize {
		return nil, &CorruptionError{Reason: "snapshot file truncated"}
	}
	off := 0
	magic := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if magic != snapshotMagic {
		return nil, &CorruptionError{Reason: "snapshot magic mismatch"}
	}
	off += 4 // version
	snap := Snapshot{}
	snap.Index = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	snap.Term = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	snap.ConfigFingerprint = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	compression := BackupCompression(buf[off])
	off++
	rawLen := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	wantCRC := binary.LittleEndian.Uint32(buf[off:])
	off += 4

	payload, err := decompressPayload(buf[off:], compression, int(rawLen))
	if err != nil {
		return nil, fmt.Errorf("wal: decompress snapshot: %w", err)
	}
	if gotCRC := crc32.ChecksumIEEE(payload); gotCRC != wantCRC {
		return nil, &CorruptionError{Reason: "snapshot payload checksum mismatch"}
	}
	snap.StateMachinePayload = payload
	return &snap, nil
}

func compressPayload(payload []byte, c BackupCompression) ([]byte, error) {
	if c == CompressionNone || len(payload) == 0 {
		return payload, nil
	}
	level := zstd.SpeedDefault
	if c == CompressionFast {
		level = zstd.SpeedFastest
	} else if c == CompressionOptimal {
		level = zstd.SpeedBestCompression
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(payload, nil), nil
}

func decompressPayload(data []byte, c BackupCompression, rawLen int) ([]byte, error) {
	if c == CompressionNone || len(data) == 0 {
		return data, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, make([]byte, 0, rawLen))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func fsyncParent(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
