package raft

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/raftcore/pkg/membership"
	"github.com/cuemby/raftcore/pkg/wal"
)

// configChangeCommandID is a reserved command-id sentinel marking a log
// entry's payload as a configuration change rather than an application
// command, so configAwareFSM can intercept it before the caller's own
// state machine ever sees it.
const configChangeCommandID uint32 = 0xFFFFFFFF

type configChangeEntry struct {
	Members []membership.Member `json:"members"`
}

func encodeConfigChangeEntry(cfg membership.Configuration) []byte {
	data, err := json.Marshal(configChangeEntry{Members: cfg.Members})
	if err != nil {
		// Member and Configuration are plain data types with no cyclic or
		// unsupported fields; Marshal cannot fail for them.
		panic(fmt.Sprintf("raft: marshal configuration entry: %v", err))
	}
	return data
}

func decodeConfigChangeEntry(payload []byte) (membership.Configuration, error) {
	var e configChangeEntry
	if err := json.Unmarshal(payload, &e); err != nil {
		return membership.Configuration{}, fmt.Errorf("raft: decode configuration entry: %w", err)
	}
	return membership.Configuration{Members: e.Members}, nil
}

// configAwareFSM wraps the caller-supplied state machine so that
// committed configuration-change entries update pkg/membership instead of
// being handed to application code. The leader that originated a change
// already applied it as soon as a majority of the new configuration
// replicated the entry (see maybeFinalizeConfigChangeLocked); this Apply
// call is how every other node converges once the entry itself commits.
type configAwareFSM struct {
	inner   wal.StateMachine
	members *membership.Manager
}

// NewStateMachine wraps inner (the application's own wal.StateMachine, may
// be nil for a pure-membership demo) so that committed configuration-change
// entries are routed to members instead of inner. Pass the result to
// wal.Open when constructing the store a Node will run on.
func NewStateMachine(inner wal.StateMachine, members *membership.Manager) wal.StateMachine {
	return &configAwareFSM{inner: inner, members: members}
}

func (f *configAwareFSM) Apply(entry wal.LogEntry) error {
	if entry.CommandID != nil && *entry.CommandID == configChangeCommandID {
		cfg, err := decodeConfigChangeEntry(entry.Payload)
		if err != nil {
			return err
		}
		if _, ok := f.members.Proposed(); !ok {
			if active := f.members.Active(); active.Fingerprint() == cfg.Fingerprint() {
				return nil // already converged, e.g. the originating leader
			}
			if err := f.members.Propose(cfg); err != nil {
				return err
			}
		}
		if _, err := f.members.Apply(); err != nil && err != membership.ErrNoProposal {
			return err
		}
		return nil
	}
	if f.inner == nil {
		return nil
	}
	return f.inner.Apply(entry)
}

func (f *configAwareFSM) Snapshot() ([]byte, error) {
	if f.inner == nil {
		return nil, nil
	}
	return f.inner.Snapshot()
}

func (f *configAwareFSM) Restore(payload []byte) error {
	if f.inner == nil {
		return nil
	}
	return f.inner.Restore(payload)
}
