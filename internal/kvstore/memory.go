package kvstore

import (
	"context"
	"sync"
)

// MemoryStore implements Store using an in-process map.
// This is suitable for tests and single-instance deployments. Several
// component sets may share one MemoryStore to simulate multiple instances
// against one storage origin; Watch events fan out to every subscriber.
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[string][]byte
	watchers map[int]chan Event
	nextID   int
	closed   bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:    make(map[string][]byte),
		watchers: make(map[int]chan Event),
	}
}

// Get retrieves the value stored under key.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.items[key]
	if !exists {
		return nil, ErrKeyNotFound
	}

	// Return a copy to prevent mutation.
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Set stores value under key.
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	m.mu.Lock()
	m.items[key] = valueCopy
	m.mu.Unlock()

	m.broadcast(Event{Key: key})
	return nil
}

// Delete removes the value under key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.mu.Lock()
	_, existed := m.items[key]
	delete(m.items, key)
	m.mu.Unlock()

	if existed {
		m.broadcast(Event{Key: key, Deleted: true})
	}
	return nil
}

// Watch returns a channel of change events.
func (m *MemoryStore) Watch(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrStoreClosed
	}
	id := m.nextID
	m.nextID++
	ch := make(chan Event, 16)
	m.watchers[id] = ch
	m.mu.Unlock()

	out := make(chan Event, 16)
	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.watchers, id)
			m.mu.Unlock()
			close(out)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// broadcast delivers an event to every watcher without blocking.
// A watcher that cannot keep up misses the event; consumers reconcile by
// reloading, so a missed event degrades to eventual consistency.
func (m *MemoryStore) broadcast(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Ping checks backend availability.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStoreClosed
	}
	return ctx.Err()
}

// Close releases all watchers.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for id, ch := range m.watchers {
		close(ch)
		delete(m.watchers, id)
	}
	return nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
