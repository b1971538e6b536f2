package statemachine

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/raftcore/pkg/wal"
)

var bucketKV = []byte("kv")

// Operation tags a Command's effect.
type Operation string

const (
	OpPut    Operation = "put"
	OpDelete Operation = "delete"
)

// Command is the JSON shape carried as a committed log entry's payload.
type Command struct {
	Op    Operation `json:"op"`
	Key   string    `json:"key"`
	Value []byte    `json:"value,omitempty"`
}

// EncodePut returns a payload committing key=value.
func EncodePut(key string, value []byte) []byte {
	data, _ := json.Marshal(Command{Op: OpPut, Key: key, Value: value})
	return data
}

// EncodeDelete returns a payload committing the removal of key.
func EncodeDelete(key string) []byte {
	data, _ := json.Marshal(Command{Op: OpDelete, Key: key})
	return data
}

// KVStore is a bbolt-backed wal.StateMachine: every committed Command
// mutates one bucket, and Snapshot/Restore round-trip the whole bucket as a
// JSON map so compaction never depends on bbolt's own file format matching
// across versions.
type KVStore struct {
	db *bolt.DB
}

// NewKVStore opens (or creates) the state machine's database file under
// dataDir.
func NewKVStore(dataDir string) (*KVStore, error) {
	path := filepath.Join(dataDir, "statemachine.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("statemachine: open bbolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKV)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("statemachine: create bucket: %w", err)
	}
	return &KVStore{db: db}, nil
}

// Close closes the underlying database file.
func (k *KVStore) Close() error { return k.db.Close() }

// Get returns the value stored for key, if present.
func (k *KVStore) Get(key string) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := k.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketKV).Get([]byte(key))
		if v != nil {
			found = true
			value = append([]byte(nil), v...)
		}
		return nil
	})
	return value, found, err
}

// Apply implements wal.StateMachine.
func (k *KVStore) Apply(entry wal.LogEntry) error {
	if len(entry.Payload) == 0 {
		return nil
	}
	var cmd Command
	if err := json.Unmarshal(entry.Payload, &cmd); err != nil {
		return fmt.Errorf("statemachine: decode command at index %d: %w", entry.Index, err)
	}
	return k.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		switch cmd.Op {
		case OpPut:
			return b.Put([]byte(cmd.Key), cmd.Value)
		case OpDelete:
			return b.Delete([]byte(cmd.Key))
		default:
			return fmt.Errorf("statemachine: unknown op %q", cmd.Op)
		}
	})
}

// Snapshot implements wal.StateMachine.
func (k *KVStore) Snapshot() ([]byte, error) {
	snap := make(map[string][]byte)
	err := k.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).ForEach(func(key, value []byte) error {
			snap[string(key)] = append([]byte(nil), value...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("statemachine: build snapshot: %w", err)
	}
	return json.Marshal(snap)
}

// Restore implements wal.StateMachine.
func (k *KVStore) Restore(payload []byte) error {
	var snap map[string][]byte
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &snap); err != nil {
			return fmt.Errorf("statemachine: decode snapshot: %w", err)
		}
	}
	return k.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketKV); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(bucketKV)
		if err != nil {
			return err
		}
		for key, value := range snap {
			if err := b.Put([]byte(key), value); err != nil {
				return err
			}
		}
		return nil
	})
}

var _ wal.StateMachine = (*KVStore)(nil)
