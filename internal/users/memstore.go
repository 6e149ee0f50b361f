package users

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is a mutex-guarded in-memory Store for dev mode and tests.
type MemStore struct {
	mu    sync.Mutex
	users map[string]User
}

// NewMemStore creates an empty in-memory user store.
func NewMemStore() *MemStore {
	return &MemStore{users: make(map[string]User)}
}

func (m *MemStore) GetUser(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[username]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m *MemStore) CreateUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.Username] = u
	return nil
}

func (m *MemStore) UpdateUserPassword(_ context.Context, username, hash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[username]; ok {
		u.PasswordHash = hash
		u.LastPasswordChange = at
		m.users[username] = u
	}
	return nil
}

func (m *MemStore) DeleteUser(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, username)
	return nil
}

func (m *MemStore) ListUsers(_ context.Context, role string) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for _, u := range m.users {
		if role == "" || u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}
