// Package snapshot stores the admin-facing attendance snapshots that the reconciler compares
// against live records.
package snapshot

import (
	"context"
	"sync"

	"example.com/attendance/internal/domain"
)

// Store is a domain.SnapshotStore that can also apply projections from the event stream.
type Store interface {
	domain.SnapshotStore
	// Project writes snap unless the stored snapshot already reflects the same record at an
	// equal or later sequence. It reports whether snap was written.
	Project(ctx context.Context, snap domain.Snapshot) (bool, error)
}

// supersedes reports whether next should replace current.
func supersedes(current *domain.Snapshot, next domain.Snapshot) bool {
	if current == nil || current.RecordID != next.RecordID {
		return true
	}
	return next.Sequence > current.Sequence
}

// MemoryStore keeps snapshots in process. It backs the memory store backend and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]domain.Snapshot
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]domain.Snapshot)}
}

// Get returns nil when no snapshot exists for the day.
func (m *MemoryStore) Get(_ context.Context, tenantID, employeeID, localDate string) (*domain.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.items[Key(tenantID, employeeID, localDate)]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// Put overwrites the snapshot unconditionally.
func (m *MemoryStore) Put(_ context.Context, snap domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[Key(snap.TenantID, snap.EmployeeID, snap.LocalDate)] = snap
	return nil
}

// Project implements Store.
func (m *MemoryStore) Project(_ context.Context, snap domain.Snapshot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(snap.TenantID, snap.EmployeeID, snap.LocalDate)
	var current *domain.Snapshot
	if existing, ok := m.items[key]; ok {
		current = &existing
	}
	if !supersedes(current, snap) {
		return false, nil
	}
	m.items[key] = snap
	return true, nil
}

// Key is the storage key of a day snapshot.
func Key(tenantID, employeeID, localDate string) string {
	return "attendance:snapshot:" + tenantID + ":" + employeeID + ":" + localDate
}
