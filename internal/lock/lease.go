// Package lock provides advisory locking for writers sharing one storage
// backend. A lock is modelled as a lease: a time-bounded record that
// self-expires even if never released. The lease is a cooperative
// convention, not enforced by the storage layer; all writers are expected
// to honor it.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Lease is the record held by the current lock owner.
type Lease struct {
	// OwnerToken identifies the acquiring instance.
	OwnerToken string `json:"ownerToken"`

	// AcquiredAt is the instant the lease was taken.
	AcquiredAt time.Time `json:"acquiredAt"`

	// TTL bounds the lease lifetime.
	TTL time.Duration `json:"ttl"`
}

// ExpiresAt returns the instant the lease lapses.
func (l Lease) ExpiresAt() time.Time {
	return l.AcquiredAt.Add(l.TTL)
}

// Expired reports whether the lease has lapsed at the given instant.
func (l Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt())
}

// newLease constructs a lease owned by a fresh token.
func newLease(ttl time.Duration) Lease {
	return Lease{
		OwnerToken: uuid.NewString(),
		AcquiredAt: time.Now().UTC(),
		TTL:        ttl,
	}
}

// Locker defines the advisory lock contract.
type Locker interface {
	// TryAcquire attempts to take the lease for key. Returns the lease and
	// true on success, or nil and false when another owner holds an
	// unexpired lease. TryAcquire never blocks.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error)

	// Release gives up the lease. Returns false when the lease is no
	// longer owned (expired and taken over, or already released).
	Release(ctx context.Context, key string, lease *Lease) (bool, error)

	// Extend pushes out the expiry of a held lease.
	Extend(ctx context.Context, key string, lease *Lease, ttl time.Duration) (bool, error)

	// IsHeld reports whether any unexpired lease exists for key.
	IsHeld(ctx context.Context, key string) (bool, error)
}
