package syncx

import "context"

// SharedLock is an async shared lock with a fixed concurrency level: up to
// concurrencyLevel weak holders may hold it simultaneously, or exactly one
// strong holder may hold it exclusively. A queued strong request blocks
// further weak grants (strong preference), mirroring RWMutex's writer
// preference so a burst of weak acquisitions can never starve a strong
// waiter indefinitely.
type SharedLock struct {
	qs               QueuedSynchronizer
	concurrencyLevel int64
	remaining        int64 // concurrencyLevel when free; 0..concurrencyLevel-1 under weak load; -1 while strong-held
	waitingStrong    int
}

// NewSharedLock returns a SharedLock that permits up to concurrencyLevel
// simultaneous weak holders. concurrencyLevel must be >= 1.
func NewSharedLock(concurrencyLevel int64) *SharedLock {
	if concurrencyLevel < 1 {
		concurrencyLevel = 1
	}
	return &SharedLock{concurrencyLevel: concurrencyLevel, remaining: concurrencyLevel}
}

func (s *SharedLock) weakAllowed() bool {
	return s.remaining > 0 && s.waitingStrong == 0
}

func (s *SharedLock) strongAllowed() bool {
	return s.remaining == s.concurrencyLevel
}

// TryAcquireWeak attempts a non-blocking weak acquisition.
func (s *SharedLock) TryAcquireWeak() bool {
	return s.qs.TryAcquire(funcLockManager{
		allowed: s.weakAllowed,
		grant:   func() { s.remaining-- },
	})
}

// AcquireWeak blocks until a weak slot is available (subject to strong
// preference) or ctx is done.
func (s *SharedLock) AcquireWeak(ctx context.Context) error {
	return s.qs.Wait(ctx, funcLockManager{
		allowed: s.weakAllowed,
		grant:   func() { s.remaining-- },
	})
}

// ReleaseWeak releases one previously acquired weak hold.
func (s *SharedLock) ReleaseWeak() {
	s.qs.Release(func() { s.remaining++ })
}

// TryAcquireStrong attempts a non-blocking strong (exclusive) acquisition.
func (s *SharedLock) TryAcquireStrong() bool {
	return s.qs.TryAcquire(funcLockManager{
		allowed: s.strongAllowed,
		grant:   func() { s.remaining = -1 },
	})
}

// AcquireStrong blocks until the lock is fully free and grants exclusive
// (strong) hold, or ctx is done. While queued or held, it blocks new weak
// acquisitions from jumping ahead.
func (s *SharedLock) AcquireStrong(ctx context.Context) error {
	s.qs.Locked(func() { s.waitingStrong++ })
	err := s.qs.Wait(ctx, funcLockManager{
		allowed: s.strongAllowed,
		grant:   func() { s.remaining = -1 },
	})
	s.qs.Release(func() { s.waitingStrong-- })
	return err
}

// ReleaseStrong releases a held strong hold back to fully free.
func (s *SharedLock) ReleaseStrong() {
	s.qs.Release(func() { s.remaining = s.concurrencyLevel })
}

// Downgrade converts a held strong hold into a single weak hold.
func (s *SharedLock) Downgrade() {
	s.qs.Release(func() { s.remaining = s.concurrencyLevel - 1 })
}

// Dispose permanently fails every queued and future waiter on this lock.
func (s *SharedLock) Dispose() {
	s.qs.Dispose()
}
