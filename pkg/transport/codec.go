package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/cuemby/raftcore/pkg/wal"
)

// MessageType tags a frame so the receiving end knows which decode function
// to run and which Handler method to dispatch to.
type MessageType uint8

const (
	MsgVoteRequest MessageType = iota + 1
	MsgVoteReply
	MsgPreVoteRequest
	MsgPreVoteReply
	MsgAppendEntriesRequest
	MsgAppendEntriesReply
	MsgInstallSnapshotRequest
	MsgInstallSnapshotReply
	MsgResignRequest
	MsgResignReply
	MsgSynchronizeRequest
	MsgSynchronizeReply
	MsgConfigurationProposeRequest
	MsgConfigurationProposeReply
)

// maxFrameSize bounds a single frame, generous enough for a batched
// AppendEntries or a snapshot chunk without letting a corrupt length prefix
// trigger an unbounded allocation.
const maxFrameSize = 64 << 20

// frameHeaderSize is 1 byte of message type plus a 4-byte little-endian
// payload length, mirroring the hand-packed, explicit-byte-offset encoding
// pkg/wal/entry.go uses for its on-disk metadata records rather than
// encoding/binary.Write's reflection-based struct encoding.
const frameHeaderSize = 5

func WriteFrame(w io.Writer, typ MessageType, payload []byte) error {
	header := make([]byte, frameHeaderSize)
	header[0] = byte(typ)
	binary.LittleEndian.PutUint32(header[1:5], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("transport: write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("transport: write frame payload: %w", err)
	}
	return nil
}

func ReadFrame(r io.Reader) (MessageType, []byte, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	typ := MessageType(header[0])
	length := binary.LittleEndian.Uint32(header[1:5])
	if length > maxFrameSize {
		return 0, nil, fmt.Errorf("transport: frame of %d bytes exceeds %d byte limit", length, maxFrameSize)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("transport: read frame payload: %w", err)
		}
	}
	return typ, payload, nil
}

// encoder appends fixed-width little-endian fields and length-prefixed
// variable ones to a growing byte slice.
type encoder struct {
	buf []byte
}

func (e *encoder) i64(v int64)   { e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(v)) }
func (e *encoder) u64(v uint64)  { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }
func (e *encoder) u32(v uint32)  { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *encoder) boolean(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}
func (e *encoder) str(s string) {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(len(s)))
	e.buf = append(e.buf, s...)
}
func (e *encoder) bytes(b []byte) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(len(b)))
	e.buf = append(e.buf, b...)
}

// decoder reads fields back off a byte slice in the same order encoder
// wrote them, accumulating the first error and making every subsequent read
// a no-op so callers can check err once at the end.
type decoder struct {
	buf []byte
	off int
	err error
}

func newDecoder(buf []byte) *decoder { return &decoder{buf: buf} }

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if d.off+n > len(d.buf) {
		d.err = io.ErrUnexpectedEOF
		return false
	}
	return true
}

func (d *decoder) i64() int64 {
	if !d.need(8) {
		return 0
	}
	v := int64(binary.LittleEndian.Uint64(d.buf[d.off:]))
	d.off += 8
	return v
}

func (d *decoder) u64() uint64 {
	if !d.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v
}

func (d *decoder) u32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

func (d *decoder) boolean() bool {
	if !d.need(1) {
		return false
	}
	v := d.buf[d.off] != 0
	d.off++
	return v
}

func (d *decoder) str() string {
	if !d.need(2) {
		return ""
	}
	n := int(binary.LittleEndian.Uint16(d.buf[d.off:]))
	d.off += 2
	if !d.need(n) {
		return ""
	}
	s := string(d.buf[d.off : d.off+n])
	d.off += n
	return s
}

func (d *decoder) bytes() []byte {
	if !d.need(4) {
		return nil
	}
	n := int(binary.LittleEndian.Uint32(d.buf[d.off:]))
	d.off += 4
	if n == 0 {
		return nil
	}
	if !d.need(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, d.buf[d.off:d.off+n])
	d.off += n
	return b
}

func encodeEntries(e *encoder, entries []wal.LogEntry) {
	e.u32(uint32(len(entries)))
	for _, entry := range entries {
		e.u64(entry.Term)
		e.u64(entry.Index)
		e.i64(entry.Timestamp.UnixNano())
		if entry.CommandID != nil {
			e.boolean(true)
			e.u32(*entry.CommandID)
		} else {
			e.boolean(false)
		}
		e.bytes(entry.Payload)
		e.boolean(entry.IsSnapshot)
	}
}

func decodeEntries(d *decoder) []wal.LogEntry {
	count := d.u32()
	if d.err != nil || count == 0 {
		return nil
	}
	entries := make([]wal.LogEntry, count)
	for i := range entries {
		entries[i].Term = d.u64()
		entries[i].Index = d.u64()
		entries[i].Timestamp = time.Unix(0, d.i64())
		if d.boolean() {
			id := d.u32()
			entries[i].CommandID = &id
		}
		entries[i].Payload = d.bytes()
		entries[i].IsSnapshot = d.boolean()
	}
	return entries
}

func EncodeVoteRequest(m *VoteRequest) []byte {
	e := &encoder{}
	e.i64(m.Term)
	e.str(m.CandidateID)
	e.i64(m.LastLogIndex)
	e.i64(m.LastLogTerm)
	return e.buf
}

func DecodeVoteRequest(buf []byte) (*VoteRequest, error) {
	d := newDecoder(buf)
	m := &VoteRequest{Term: d.i64(), CandidateID: d.str(), LastLogIndex: d.i64(), LastLogTerm: d.i64()}
	return m, d.err
}

func EncodeVoteReply(m *VoteReply) []byte {
	e := &encoder{}
	e.i64(m.Term)
	e.boolean(m.VoteGranted)
	return e.buf
}

func DecodeVoteReply(buf []byte) (*VoteReply, error) {
	d := newDecoder(buf)
	m := &VoteReply{Term: d.i64(), VoteGranted: d.boolean()}
	return m, d.err
}

func EncodePreVoteRequest(m *PreVoteRequest) []byte {
	e := &encoder{}
	e.i64(m.Term)
	e.str(m.CandidateID)
	e.i64(m.LastLogIndex)
	e.i64(m.LastLogTerm)
	return e.buf
}

func DecodePreVoteRequest(buf []byte) (*PreVoteRequest, error) {
	d := newDecoder(buf)
	m := &PreVoteRequest{Term: d.i64(), CandidateID: d.str(), LastLogIndex: d.i64(), LastLogTerm: d.i64()}
	return m, d.err
}

func EncodePreVoteReply(m *PreVoteReply) []byte {
	e := &encoder{}
	e.i64(m.Term)
	e.boolean(m.Accepted)
	return e.buf
}

func DecodePreVoteReply(buf []byte) (*PreVoteReply, error) {
	d := newDecoder(buf)
	m := &PreVoteReply{Term: d.i64(), Accepted: d.boolean()}
	return m, d.err
}

func EncodeAppendEntriesRequest(m *AppendEntriesRequest) []byte {
	e := &encoder{}
	e.i64(m.Term)
	e.str(m.LeaderID)
	e.i64(m.PrevLogIndex)
	e.i64(m.PrevLogTerm)
	encodeEntries(e, m.Entries)
	e.i64(m.CommitIndex)
	e.u64(m.ConfigurationFingerprint)
	return e.buf
}

func DecodeAppendEntriesRequest(buf []byte) (*AppendEntriesRequest, error) {
	d := newDecoder(buf)
	m := &AppendEntriesRequest{Term: d.i64(), LeaderID: d.str(), PrevLogIndex: d.i64(), PrevLogTerm: d.i64()}
	m.Entries = decodeEntries(d)
	m.CommitIndex = d.i64()
	m.ConfigurationFingerprint = d.u64()
	return m, d.err
}

func EncodeAppendEntriesReply(m *AppendEntriesReply) []byte {
	e := &encoder{}
	e.i64(m.Term)
	e.boolean(m.Success)
	e.i64(m.ConflictIndex)
	e.i64(m.ConflictTerm)
	return e.buf
}

func DecodeAppendEntriesReply(buf []byte) (*AppendEntriesReply, error) {
	d := newDecoder(buf)
	m := &AppendEntriesReply{Term: d.i64(), Success: d.boolean(), ConflictIndex: d.i64(), ConflictTerm: d.i64()}
	return m, d.err
}

func EncodeInstallSnapshotRequest(m *InstallSnapshotRequest) []byte {
	e := &encoder{}
	e.i64(m.Term)
	e.str(m.LeaderID)
	e.i64(m.LastIncludedIndex)
	e.i64(m.LastIncludedTerm)
	e.u64(m.ConfigurationFingerprint)
	e.bytes(m.Data)
	return e.buf
}

func DecodeInstallSnapshotRequest(buf []byte) (*InstallSnapshotRequest, error) {
	d := newDecoder(buf)
	m := &InstallSnapshotRequest{
		Term:                     d.i64(),
		LeaderID:                 d.str(),
		LastIncludedIndex:        d.i64(),
		LastIncludedTerm:         d.i64(),
		ConfigurationFingerprint: d.u64(),
	}
	m.Data = d.bytes()
	return m, d.err
}

func EncodeInstallSnapshotReply(m *InstallSnapshotReply) []byte {
	e := &encoder{}
	e.i64(m.Term)
	return e.buf
}

func DecodeInstallSnapshotReply(buf []byte) (*InstallSnapshotReply, error) {
	d := newDecoder(buf)
	m := &InstallSnapshotReply{Term: d.i64()}
	return m, d.err
}

func EncodeResignRequest(m *ResignRequest) []byte {
	e := &encoder{}
	e.i64(m.Term)
	return e.buf
}

func DecodeResignRequest(buf []byte) (*ResignRequest, error) {
	d := newDecoder(buf)
	m := &ResignRequest{Term: d.i64()}
	return m, d.err
}

func EncodeResignReply(m *ResignReply) []byte {
	e := &encoder{}
	e.i64(m.Term)
	e.boolean(m.Resigned)
	return e.buf
}

func DecodeResignReply(buf []byte) (*ResignReply, error) {
	d := newDecoder(buf)
	m := &ResignReply{Term: d.i64(), Resigned: d.boolean()}
	return m, d.err
}

func EncodeSynchronizeRequest(m *SynchronizeRequest) []byte {
	e := &encoder{}
	e.i64(m.Term)
	return e.buf
}

func DecodeSynchronizeRequest(buf []byte) (*SynchronizeRequest, error) {
	d := newDecoder(buf)
	m := &SynchronizeRequest{Term: d.i64()}
	return m, d.err
}

func EncodeSynchronizeReply(m *SynchronizeReply) []byte {
	e := &encoder{}
	e.i64(m.Term)
	e.boolean(m.Ok)
	return e.buf
}

func DecodeSynchronizeReply(buf []byte) (*SynchronizeReply, error) {
	d := newDecoder(buf)
	m := &SynchronizeReply{Term: d.i64(), Ok: d.boolean()}
	return m, d.err
}

func EncodeConfigurationProposeRequest(m *ConfigurationProposeRequest) []byte {
	e := &encoder{}
	e.u32(uint32(len(m.Members)))
	for _, mem := range m.Members {
		e.str(mem.ID)
		e.str(mem.Address)
		e.boolean(mem.Standby)
	}
	return e.buf
}

func DecodeConfigurationProposeRequest(buf []byte) (*ConfigurationProposeRequest, error) {
	d := newDecoder(buf)
	count := d.u32()
	m := &ConfigurationProposeRequest{}
	if d.err != nil {
		return m, d.err
	}
	m.Members = make([]ConfigurationMember, count)
	for i := range m.Members {
		m.Members[i] = ConfigurationMember{ID: d.str(), Address: d.str(), Standby: d.boolean()}
	}
	return m, d.err
}

func EncodeConfigurationProposeReply(m *ConfigurationProposeReply) []byte {
	e := &encoder{}
	e.boolean(m.Accepted)
	e.str(m.LeaderHint)
	return e.buf
}

func DecodeConfigurationProposeReply(buf []byte) (*ConfigurationProposeReply, error) {
	d := newDecoder(buf)
	m := &ConfigurationProposeReply{Accepted: d.boolean(), LeaderHint: d.str()}
	return m, d.err
}
