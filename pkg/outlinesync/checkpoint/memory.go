package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory checkpoint store for testing.
type MemoryStore struct {
	mu     sync.Mutex
	cp     *Checkpoint
	saves  int
	closed bool
}

// NewMemoryStore creates an empty store. Pass a checkpoint to start from a
// previous run's state.
func NewMemoryStore(initial ...*Checkpoint) *MemoryStore {
	m := &MemoryStore{}
	if len(initial) > 0 && initial[0] != nil {
		m.cp = initial[0].Clone()
	}
	return m
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	if m.cp == nil {
		return nil, ErrNotFound
	}
	return m.cp.Clone(), nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.cp = cp.Clone()
	m.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
