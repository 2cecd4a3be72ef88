package lock

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prn-tf/quill/internal/kvstore"
)

// StoreLocker implements Locker by keeping lease records in the shared
// key-value store, where every instance can see them. This is the direct
// descendant of the original timestamp-in-storage scheme: acquisition is
// read-check-write, so two instances racing the same key within one
// round-trip can both win. Callers treat it as a coarse rate limiter, not
// a correctness guarantee.
type StoreLocker struct {
	store kvstore.Store
}

// NewStoreLocker creates a locker over the shared store.
func NewStoreLocker(store kvstore.Store) *StoreLocker {
	return &StoreLocker{store: store}
}

// TryAcquire attempts to take the lease for key.
func (s *StoreLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if existing, ok, err := s.read(ctx, key); err != nil {
		return nil, false, err
	} else if ok && !existing.Expired(time.Now()) {
		return nil, false, nil
	}

	lease := newLease(ttl)
	raw, err := json.Marshal(lease)
	if err != nil {
		return nil, false, err
	}
	if err := s.store.Set(ctx, key, raw); err != nil {
		return nil, false, err
	}
	return &lease, true, nil
}

// Release removes the lease record if still owned.
func (s *StoreLocker) Release(ctx context.Context, key string, lease *Lease) (bool, error) {
	existing, ok, err := s.read(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || existing.OwnerToken != lease.OwnerToken {
		return false, nil
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

// Extend rewrites the lease record with a fresh expiry if still owned.
func (s *StoreLocker) Extend(ctx context.Context, key string, lease *Lease, ttl time.Duration) (bool, error) {
	existing, ok, err := s.read(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || existing.OwnerToken != lease.OwnerToken || existing.Expired(time.Now()) {
		return false, nil
	}

	lease.AcquiredAt = time.Now().UTC()
	lease.TTL = ttl
	raw, err := json.Marshal(*lease)
	if err != nil {
		return false, err
	}
	if err := s.store.Set(ctx, key, raw); err != nil {
		return false, err
	}
	return true, nil
}

// IsHeld reports whether an unexpired lease record exists for key.
func (s *StoreLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	existing, ok, err := s.read(ctx, key)
	if err != nil {
		return false, err
	}
	return ok && !existing.Expired(time.Now()), nil
}

func (s *StoreLocker) read(ctx context.Context, key string) (Lease, bool, error) {
	raw, err := s.store.Get(ctx, key)
	if err == kvstore.ErrKeyNotFound {
		return Lease{}, false, nil
	}
	if err != nil {
		return Lease{}, false, err
	}

	var lease Lease
	if err := json.Unmarshal(raw, &lease); err != nil {
		// A garbled lease record blocks nobody.
		return Lease{}, false, nil
	}
	return lease, true, nil
}

// Ensure StoreLocker implements Locker.
var _ Locker = (*StoreLocker)(nil)
