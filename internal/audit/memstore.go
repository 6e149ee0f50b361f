package audit

import (
	"context"
	"sync"
)

// MemStore is a mutex-guarded in-memory Store for dev mode and tests.
type MemStore struct {
	mu      sync.Mutex
	entries []Entry // index 0 is newest
	marker  *ClearMarker
}

// NewMemStore creates an empty in-memory audit store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) AppendLogEntry(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append([]Entry{e}, m.entries...)
	return nil
}

func (m *MemStore) ListLogEntries(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *MemStore) ClearLogEntries(_ context.Context, marker ClearMarker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk := marker
	m.marker = &mk
	m.entries = nil
	return nil
}

func (m *MemStore) LastClearMarker(_ context.Context) (*ClearMarker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.marker == nil {
		return nil, nil
	}
	mk := *m.marker
	return &mk, nil
}
