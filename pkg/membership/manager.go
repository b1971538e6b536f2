package membership

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cuemby/raftcore/pkg/syncx"
)

// Manager owns the active and (at most one) proposed cluster configuration,
// persists both across restarts, and notifies observers when a proposal is
// applied.
//
// Reads of the active configuration are wait-free: Active loads an
// atomic.Pointer snapshot rather than taking a lock, since every Raft
// AppendEntries and every client read-path call consults it. Mutations
// (Propose/Apply/CancelPropose) serialize through a short critical section
// guarded by mu; the critical section only swaps pointers and persists to
// the Store, it never holds the lock across I/O errors from callers.
type Manager struct {
	mu       sync.Mutex
	active   atomic.Pointer[Configuration]
	proposed *Configuration

	activeStore   Store
	proposedStore Store

	broker   *broker
	applied  *syncx.CompletionPipe
	closed   bool
}

// NewManager returns a Manager persisting its active configuration through
// activeStore and its in-flight proposal (if any) through proposedStore.
// Pass membership.NewInMemoryStore() for either argument for a
// non-persistent slot.
func NewManager(activeStore, proposedStore Store) *Manager {
	return &Manager{
		activeStore:   activeStore,
		proposedStore: proposedStore,
		broker:        newBroker(),
		applied:       syncx.NewCompletionPipe(),
	}
}

// Load reads both slots from their stores. It must be called once before
// any other Manager method. A missing active slot starts the manager with
// an empty configuration, a legitimate state for a brand-new cluster whose
// first entry is the initial AddMember sequence.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg, ok, err := m.activeStore.Load(); err != nil {
		return err
	} else if ok {
		cp := cfg
		m.active.Store(&cp)
	} else {
		m.active.Store(&Configuration{})
	}

	if cfg, ok, err := m.proposedStore.Load(); err != nil {
		return err
	} else if ok {
		cp := cfg
		m.proposed = &cp
	}
	return nil
}

// Active returns the current active configuration. Wait-free.
func (m *Manager) Active() Configuration {
	return *m.active.Load()
}

// Fingerprint returns the active configuration's content hash.
func (m *Manager) Fingerprint() uint64 {
	return m.Active().Fingerprint()
}

// Proposed returns the pending proposal, if any.
func (m *Manager) Proposed() (Configuration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.proposed == nil {
		return Configuration{}, false
	}
	return *m.proposed, true
}

// Propose registers cfg as the pending configuration change. Only one
// proposal may be outstanding at a time; a second Propose before the first
// is applied or cancelled fails with ErrProposalPending.
func (m *Manager) Propose(cfg Configuration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.proposed != nil {
		return ErrProposalPending
	}
	if err := m.proposedStore.Save(cfg); err != nil {
		return err
	}
	cp := cfg
	m.proposed = &cp
	return nil
}

// AddMember is a convenience that proposes the active configuration plus m.
func (m *Manager) AddMember(member Member) error {
	active := m.Active()
	if active.Has(member.ID) {
		return ErrMemberExists
	}
	return m.Propose(active.With(member))
}

// RemoveMember is a convenience that proposes the active configuration
// minus id.
func (m *Manager) RemoveMember(id string) error {
	active := m.Active()
	if !active.Has(id) {
		return ErrMemberNotFound
	}
	return m.Propose(active.Without(id))
}

// CancelPropose discards the pending proposal without applying it.
func (m *Manager) CancelPropose() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.proposed == nil {
		return ErrNoProposal
	}
	if err := m.proposedStore.Clear(); err != nil {
		return err
	}
	m.proposed = nil
	return nil
}

// Apply promotes the pending proposal to active, persists it, publishes a
// ChangeEvent to subscribers, and completes every pending WaitForApply
// call. The fingerprint is a content hash of the configuration
// (Configuration.Fingerprint): configurations with different members get
// different fingerprints, but the value does not increase monotonically
// across applies, and returning to an earlier member set yields that set's
// earlier fingerprint again. Apply only requires a pending proposal to
// exist; it does not check that the proposal differs from the active
// configuration.
func (m *Manager) Apply() (Configuration, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Configuration{}, ErrClosed
	}
	if m.proposed == nil {
		m.mu.Unlock()
		return Configuration{}, ErrNoProposal
	}
	next := *m.proposed

	if err := m.activeStore.Save(next); err != nil {
		m.mu.Unlock()
		return Configuration{}, err
	}
	if err := m.proposedStore.Clear(); err != nil {
		m.mu.Unlock()
		return Configuration{}, err
	}

	old := m.Active()
	m.active.Store(&next)
	m.proposed = nil
	m.mu.Unlock()

	added, removed := Diff(old, next)
	ev := ChangeEvent{Active: next, Added: added, Removed: removed, Fingerprint: next.Fingerprint()}
	m.broker.publish(ev)
	m.applied.Complete()
	return next, nil
}

// WaitForApply blocks until the next Apply call completes, or ctx is done.
// Multiple concurrent callers all observe the same Apply.
func (m *Manager) WaitForApply(ctx context.Context) error {
	return m.applied.Wait(ctx)
}

// Subscribe registers a new observer of applied configuration changes.
// Callers must invoke the returned cancel function when no longer
// interested, to release the subscriber slot.
func (m *Manager) Subscribe(buffer int) (Subscriber, func()) {
	ch := m.broker.subscribe(buffer)
	return ch, func() { m.broker.unsubscribe(ch) }
}

// Close releases the manager's subscriber channels. It does not clear
// persisted state.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.broker.closeAll()
	return nil
}
