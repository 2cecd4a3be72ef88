// Package store provides the persistent store adapter: a never-fail JSON
// layer over a kvstore backend. Reads that cannot be served return the
// caller's default; writes report success as a boolean. Callers above this
// boundary must never assume a write reached the backend.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/kvstore"
	"github.com/prn-tf/quill/internal/metrics"
)

// Well-known keys in the storage backend.
const (
	KeyUsers         = "users"
	KeyArticles      = "articles"
	KeyComments      = "comments"
	KeySession       = "session"
	KeyDataBackup    = "dataBackup"
	KeyFirstLoadFlag = "firstLoadFlag"

	// ViewLockPrefix namespaces the per-article advisory lease records.
	ViewLockPrefix = "lock:view:"
)

// ViewLockKey returns the lease key for an article.
func ViewLockKey(articleID string) string {
	return ViewLockPrefix + articleID
}

// Adapter wraps a kvstore.Store with JSON serialization and failure
// absorption. When the backend becomes unavailable the adapter flips into
// degraded mode and serves all traffic from an in-process map for the
// remainder of the session.
type Adapter struct {
	backend kvstore.Store
	logger  zerolog.Logger

	mu       sync.Mutex
	degraded bool
	fallback map[string][]byte
}

// NewAdapter creates an adapter over the given backend.
func NewAdapter(backend kvstore.Store, logger zerolog.Logger) *Adapter {
	return &Adapter{
		backend:  backend,
		logger:   logger.With().Str("component", "store").Logger(),
		fallback: make(map[string][]byte),
	}
}

// Load decodes the value under key into dest. On a missing key, a parse
// failure or backend unavailability, dest is left at its caller-provided
// default, the condition is logged and false is returned. Load never fails.
func (a *Adapter) Load(ctx context.Context, key string, dest any) bool {
	raw, ok := a.getRaw(ctx, key)
	if !ok {
		return false
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("discarding unparseable value")
		metrics.StorageFailures.Inc()
		return false
	}
	return true
}

// Store serializes value under key. Returns false on any failure; in
// degraded mode the write lands in the in-process map and counts as
// accepted.
func (a *Adapter) Store(ctx context.Context, key string, value any) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		a.logger.Error().Err(err).Str("key", key).Msg("failed to serialize value")
		metrics.StorageFailures.Inc()
		return false
	}

	a.mu.Lock()
	if a.degraded {
		a.fallback[key] = raw
		a.mu.Unlock()
		return true
	}
	a.mu.Unlock()

	if err := a.backend.Set(ctx, key, raw); err != nil {
		a.degrade(key, err)
		a.mu.Lock()
		a.fallback[key] = raw
		a.mu.Unlock()
		return false
	}
	return true
}

// Remove deletes the value under key. Returns false on failure.
func (a *Adapter) Remove(ctx context.Context, key string) bool {
	a.mu.Lock()
	if a.degraded {
		delete(a.fallback, key)
		a.mu.Unlock()
		return true
	}
	a.mu.Unlock()

	if err := a.backend.Delete(ctx, key); err != nil {
		a.degrade(key, err)
		a.mu.Lock()
		delete(a.fallback, key)
		a.mu.Unlock()
		return false
	}
	return true
}

// Watch exposes the backend change feed. In degraded mode there is no feed.
func (a *Adapter) Watch(ctx context.Context) (<-chan kvstore.Event, error) {
	return a.backend.Watch(ctx)
}

// Degraded reports whether the adapter has fallen back to in-memory mode.
func (a *Adapter) Degraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.degraded
}

// Probe checks backend availability without mutating adapter state.
func (a *Adapter) Probe(ctx context.Context) error {
	return a.backend.Ping(ctx)
}

func (a *Adapter) getRaw(ctx context.Context, key string) ([]byte, bool) {
	a.mu.Lock()
	if a.degraded {
		raw, ok := a.fallback[key]
		a.mu.Unlock()
		return raw, ok
	}
	a.mu.Unlock()

	raw, err := a.backend.Get(ctx, key)
	if err == kvstore.ErrKeyNotFound {
		return nil, false
	}
	if err != nil {
		a.degrade(key, err)
		a.mu.Lock()
		raw, ok := a.fallback[key]
		a.mu.Unlock()
		return raw, ok
	}
	return raw, true
}

// degrade flips the adapter into in-memory-only mode. One-way for the
// lifetime of the adapter: the original system made the same trade for
// the remainder of the browsing session.
func (a *Adapter) degrade(key string, err error) {
	metrics.StorageFailures.Inc()

	a.mu.Lock()
	already := a.degraded
	a.degraded = true
	a.mu.Unlock()

	if !already {
		a.logger.Error().Err(err).Str("key", key).
			Msg("storage unavailable, continuing in-memory only")
	}
}
