package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLocker implements Locker using Redis SET NX with a TTL.
// Unlike StoreLocker, acquisition is atomic on the server, so this is the
// backend of choice when the deployment already runs the Redis store.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryAcquire attempts to take the lease for key.
func (r *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	lease := newLease(ttl)
	ok, err := r.client.SetNX(ctx, key, lease.OwnerToken, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &lease, true, nil
}

// Release removes the lease if the stored token still matches.
func (r *RedisLocker) Release(ctx context.Context, key string, lease *Lease) (bool, error) {
	token, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if token != lease.OwnerToken {
		return false, nil
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Extend refreshes the TTL if the stored token still matches.
func (r *RedisLocker) Extend(ctx context.Context, key string, lease *Lease, ttl time.Duration) (bool, error) {
	token, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if token != lease.OwnerToken {
		return false, nil
	}
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return false, err
	}
	lease.AcquiredAt = time.Now().UTC()
	lease.TTL = ttl
	return true, nil
}

// IsHeld reports whether the key currently exists.
func (r *RedisLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ensure RedisLocker implements Locker.
var _ Locker = (*RedisLocker)(nil)
