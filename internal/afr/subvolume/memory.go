package subvolume

import (
	"context"
	"sync"

	"github.com/distfs/afr-core/pkg/lock"
	"github.com/distfs/afr-core/pkg/metadata/errors"
)

// MemorySubvolume is an in-memory Subvolume used by tests and by any
// Scenario-A/B/C/D-shaped fixture that doesn't need persistence.
type MemorySubvolume struct {
	mu      sync.Mutex
	attrs   map[string]Attrs
	dirty   map[string]PendingCounters
	pending map[string]map[int]PendingCounters
	locks   *lock.Manager
}

// NewMemorySubvolume returns an empty in-memory subvolume.
func NewMemorySubvolume() *MemorySubvolume {
	return &MemorySubvolume{
		attrs:   make(map[string]Attrs),
		dirty:   make(map[string]PendingCounters),
		pending: make(map[string]map[int]PendingCounters),
		locks:   lock.NewManager(),
	}
}

// SetAttrs seeds path's stat reply, used by tests to construct fixtures.
func (m *MemorySubvolume) SetAttrs(path string, a Attrs) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attrs[path] = a
}

func (m *MemorySubvolume) Stat(_ context.Context, path string) (Attrs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attrs[path]
	if !ok {
		return Attrs{}, errors.NewNotFoundError(path, "file")
	}
	return a, nil
}

func (m *MemorySubvolume) GetDirty(_ context.Context, path string) (PendingCounters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty[path], nil
}

func (m *MemorySubvolume) SetDirty(_ context.Context, path string, c PendingCounters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty[path] = c
	return nil
}

func (m *MemorySubvolume) GetPending(_ context.Context, path string, peer int) (PendingCounters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPeer, ok := m.pending[path]
	if !ok {
		return PendingCounters{}, nil
	}
	return byPeer[peer], nil
}

func (m *MemorySubvolume) SetPending(_ context.Context, path string, peer int, c PendingCounters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPeer, ok := m.pending[path]
	if !ok {
		byPeer = make(map[int]PendingCounters)
		m.pending[path] = byPeer
	}
	byPeer[peer] = c
	return nil
}

func (m *MemorySubvolume) Locks() *lock.Manager {
	return m.locks
}

var _ Subvolume = (*MemorySubvolume)(nil)
