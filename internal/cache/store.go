package cache

import (
	"context"
	"sync"
)

// Store is an opaque byte cache. Get reports found=false for absent keys.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
}

// Tiered serves reads from an in-memory LRU before falling back to a
// persistent Store, and writes through to both.
type Tiered struct {
	memory  *LRU[string, []byte]
	backing Store
}

// NewTiered wraps backing with an LRU of the given capacity. backing may be nil.
func NewTiered(capacity int, backing Store) *Tiered {
	return &Tiered{memory: NewLRU[string, []byte](capacity), backing: backing}
}

// Get implements Store.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok := t.memory.Get(key); ok {
		return v, true, nil
	}
	if t.backing == nil {
		return nil, false, nil
	}
	v, ok, err := t.backing.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	t.memory.Put(key, v)
	return v, true, nil
}

// Set implements Store.
func (t *Tiered) Set(ctx context.Context, key string, value []byte) error {
	t.memory.Put(key, value)
	if t.backing == nil {
		return nil
	}
	return t.backing.Set(ctx, key, value)
}

// Memory is a Store kept entirely in process memory, used in tests and when
// no state directory is configured.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}
