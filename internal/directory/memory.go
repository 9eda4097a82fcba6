package directory

import (
	"context"
	"sync"
)

// Memory is an in-process Directory, used in tests and local runs.
type Memory struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemory(users ...User) *Memory {
	m := &Memory{users: make(map[string]User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

// Put adds or replaces a user.
func (m *Memory) Put(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *Memory) Lookup(_ context.Context, ids []string) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]User, 0, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *Memory) ListByRole(_ context.Context, role string) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []User
	for _, u := range m.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *Memory) ListActive(_ context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []User
	for _, u := range m.users {
		if u.Active {
			out = append(out, u)
		}
	}
	return out, nil
}
