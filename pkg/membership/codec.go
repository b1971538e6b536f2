package membership

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"gopkg.in/yaml.v3"
)

// On-disk record layout for a persisted configuration slot:
//
//	magic(4) version(1) length(4) yaml-payload(length) crc32(4)
//
// The CRC32 covers magic through the payload, matching the header shape
// pkg/wal uses for its state record so a truncated or bit-flipped file is
// detected rather than silently misread.
const (
	configMagic   uint32 = 0x4d454d43 // "MEMC"
	configVersion byte   = 1
)

type configDoc struct {
	Members []Member `yaml:"members"`
}

func encodeConfiguration(cfg Configuration) ([]byte, error) {
	payload, err := yaml.Marshal(configDoc{Members: cfg.Members})
	if err != nil {
		return nil, fmt.Errorf("membership: marshal configuration: %w", err)
	}

	buf := make([]byte, 4+1+4+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], configMagic)
	buf[4] = configVersion
	binary.LittleEndian.PutUint32(buf[5:9], uint32(len(payload)))
	copy(buf[9:], payload)

	sum := crc32.ChecksumIEEE(buf)
	out := make([]byte, len(buf)+4)
	copy(out, buf)
	binary.LittleEndian.PutUint32(out[len(buf):], sum)
	return out, nil
}

func decodeConfiguration(path string, data []byte) (Configuration, error) {
	if len(data) < 9+4 {
		return Configuration{}, &CorruptionError{Path: path, Reason: "record too short"}
	}
	body := data[:len(data)-4]
	wantSum := binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(body) != wantSum {
		return Configuration{}, &CorruptionError{Path: path, Reason: "checksum mismatch"}
	}

	magic := binary.LittleEndian.Uint32(body[0:4])
	if magic != configMagic {
		return Configuration{}, &CorruptionError{Path: path, Reason: "bad magic"}
	}
	version := body[4]
	if version != configVersion {
		return Configuration{}, &CorruptionError{Path: path, Reason: fmt.Sprintf("unsupported version %d", version)}
	}
	n := binary.LittleEndian.Uint32(body[5:9])
	if int(9+n) != len(body) {
		return Configuration{}, &CorruptionError{Path: path, Reason: "length mismatch"}
	}

	var doc configDoc
	if err := yaml.Unmarshal(body[9:9+n], &doc); err != nil {
		return Configuration{}, &CorruptionError{Path: path, Reason: "payload decode: " + err.Error()}
	}
	return Configuration{Members: doc.Members}, nil
}
