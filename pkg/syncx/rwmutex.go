package syncx

import "context"

// LockStamp is an optimistic read token returned by RWMutex.TryOptimisticRead.
// It carries no lock state itself; Validate reports whether a write has
// happened since the stamp was taken.
type LockStamp struct {
	version uint64
	valid   bool
}

// RWMutex is an async reader/writer lock with writer-preference fairness and
// an optimistic-read fast path. Unlike sync.RWMutex, every blocking entry
// point takes a context.Context and a queued writer blocks new readers from
// joining ahead of it (writer preference), matching the fairness guarantee
// readers of this package rely on to avoid write starvation under sustained
// read load.
//
// A write-to-non-write transition (entering write, exiting write, or
// downgrading) always bumps the version counter, so any stamp taken before
// or during that transition fails Validate.
type RWMutex struct {
	qs             QueuedSynchronizer
	version        uint64
	readCount      int64
	writeHeld      bool
	waitingWriters int
}

// NewRWMutex returns a ready-to-use RWMutex.
func NewRWMutex() *RWMutex {
	return &RWMutex{}
}

func (m *RWMutex) readAllowed() bool {
	return !m.writeHeld && m.waitingWriters == 0
}

func (m *RWMutex) writeAllowed() bool {
	return !m.writeHeld && m.readCount == 0
}

func (m *RWMutex) upgradeAllowed() bool {
	return !m.writeHeld && m.readCount == 1
}

// TryEnterRead attempts a non-blocking read acquisition.
func (m *RWMutex) TryEnterRead() bool {
	return m.qs.TryAcquire(funcLockManager{
		allowed: m.readAllowed,
		grant:   func() { m.readCount++ },
	})
}

// EnterRead blocks (queuing FIFO, subject to writer preference) until a read
// section can be entered, or ctx is done.
func (m *RWMutex) EnterRead(ctx context.Context) error {
	return m.qs.Wait(ctx, funcLockManager{
		allowed: m.readAllowed,
		grant:   func() { m.readCount++ },
	})
}

// ExitRead leaves a previously entered read section.
func (m *RWMutex) ExitRead() {
	m.qs.Release(func() { m.readCount-- })
}

// TryEnterWrite attempts a non-blocking write acquisition.
func (m *RWMutex) TryEnterWrite() bool {
	return m.qs.TryAcquire(funcLockManager{
		allowed: m.writeAllowed,
		grant:   func() { m.writeHeld = true; m.version++ },
	})
}

// EnterWrite blocks until the write section can be entered exclusively, or
// ctx is done. While this call is in flight (queued or not), new readers are
// held back per writer-preference fairness.
func (m *RWMutex) EnterWrite(ctx context.Context) error {
	m.qs.Locked(func() { m.waitingWriters++ })
	err := m.qs.Wait(ctx, funcLockManager{
		allowed: m.writeAllowed,
		grant:   func() { m.writeHeld = true; m.version++ },
	})
	m.qs.Release(func() { m.waitingWriters-- })
	return err
}

// ExitWrite releases a held write section back to fully unlocked.
func (m *RWMutex) ExitWrite() {
	m.qs.Release(func() {
		m.writeHeld = false
		m.version++
	})
}

// StealWrite interrupts every currently queued waiter on this lock and then
// attempts to acquire the write section under the normal grant rules. It
// does not force out the current holder; it only clears the line ahead of
// the caller.
func (m *RWMutex) StealWrite(ctx context.Context, reason string) error {
	m.qs.Interrupt(reason)
	return m.EnterWrite(ctx)
}

// UpgradeToWrite converts the caller's own sole read hold into a write hold.
// It is only grantable while readCount==1, i.e. the caller must be the only
// reader.
func (m *RWMutex) UpgradeToWrite(ctx context.Context) error {
	m.qs.Locked(func() { m.waitingWriters++ })
	err := m.qs.Wait(ctx, funcLockManager{
		allowed: m.upgradeAllowed,
		grant:   func() { m.readCount = 0; m.writeHeld = true; m.version++ },
	})
	m.qs.Release(func() { m.waitingWriters-- })
	return err
}

// DowngradeFromWrite converts a held write section directly into a single
// read hold, without an intervening fully-unlocked state.
func (m *RWMutex) DowngradeFromWrite() {
	m.qs.Release(func() {
		m.writeHeld = false
		m.readCount = 1
		m.version++
	})
}

// TryOptimisticRead returns a stamp capturing the current version, valid
// only if no write is currently held. Callers read shared state without
// taking any lock and then call Validate; if it returns false, they must
// retry under EnterRead.
func (m *RWMutex) TryOptimisticRead() LockStamp {
	var s LockStamp
	m.qs.Locked(func() {
		s = LockStamp{version: m.version, valid: !m.writeHeld}
	})
	return s
}

// Validate reports whether no write has been entered since stamp was taken
// and none is currently held.
func (m *RWMutex) Validate(stamp LockStamp) bool {
	var ok bool
	m.qs.Locked(func() {
		ok = stamp.valid && stamp.version == m.version && !m.writeHeld
	})
	return ok
}

// Dispose permanently fails every queued and future waiter on this lock.
func (m *RWMutex) Dispose() {
	m.qs.Dispose()
}
