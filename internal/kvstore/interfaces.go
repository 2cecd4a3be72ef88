// Package kvstore provides the shared key-value storage backends for Quill.
// Every instance of the application works against one logical store; the
// store is the only cross-instance shared resource. Backends also deliver
// best-effort change notifications so one instance can observe writes made
// by another.
package kvstore

import (
	"context"
	"errors"
)

// ErrKeyNotFound indicates the requested key does not exist.
var ErrKeyNotFound = errors.New("key not found")

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = errors.New("store closed")

// Event describes a change to a single key.
type Event struct {
	// Key is the changed key.
	Key string

	// Deleted is true when the key was removed rather than written.
	Deleted bool
}

// Store defines the raw key-value backend contract.
// Values are opaque byte slices; the layer above serializes JSON into them.
type Store interface {
	// Get retrieves the value stored under key.
	// Returns ErrKeyNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the value under key. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Watch returns a channel of change events. Delivery is best-effort
	// and not transactional: slow consumers may miss events. The channel
	// is closed when ctx is cancelled or the store is closed.
	Watch(ctx context.Context) (<-chan Event, error)

	// Ping checks backend availability.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
