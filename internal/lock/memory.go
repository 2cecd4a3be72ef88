package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker implements Locker using in-process state.
// Suitable when every writer lives in one process; leases are not shared
// across process restarts or multiple instances.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]Lease
}

// NewMemoryLocker creates a new in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[string]Lease),
	}
}

// TryAcquire attempts to take the lease for key.
func (m *MemoryLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if existing, exists := m.leases[key]; exists && !existing.Expired(now) {
		return nil, false, nil
	}

	lease := newLease(ttl)
	m.leases[key] = lease
	return &lease, true, nil
}

// Release gives up the lease if it is still owned.
func (m *MemoryLocker) Release(ctx context.Context, key string, lease *Lease) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.leases[key]
	if !exists || existing.OwnerToken != lease.OwnerToken {
		return false, nil
	}
	delete(m.leases, key)
	return true, nil
}

// Extend pushes out the expiry of a held lease.
func (m *MemoryLocker) Extend(ctx context.Context, key string, lease *Lease, ttl time.Duration) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.leases[key]
	if !exists || existing.OwnerToken != lease.OwnerToken || existing.Expired(time.Now()) {
		delete(m.leases, key)
		return false, nil
	}

	existing.AcquiredAt = time.Now().UTC()
	existing.TTL = ttl
	m.leases[key] = existing
	lease.AcquiredAt = existing.AcquiredAt
	lease.TTL = ttl
	return true, nil
}

// IsHeld reports whether any unexpired lease exists for key.
func (m *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.leases[key]
	if !exists {
		return false, nil
	}
	if existing.Expired(time.Now()) {
		delete(m.leases, key)
		return false, nil
	}
	return true, nil
}

// Ensure MemoryLocker implements Locker.
var _ Locker = (*MemoryLocker)(nil)
