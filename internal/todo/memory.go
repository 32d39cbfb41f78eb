package todo

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory is a process-local Store for tests and local runs.
type InMemory struct {
	mu    sync.RWMutex
	items map[string]map[string]Todo
}

var _ Store = (*InMemory)(nil)

// NewInMemory returns an empty store.
func NewInMemory() *InMemory {
	return &InMemory{items: make(map[string]map[string]Todo)}
}

func (m *InMemory) Put(_ context.Context, t Todo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	owned, ok := m.items[t.UserID]
	if !ok {
		owned = make(map[string]Todo)
		m.items[t.UserID] = owned
	}
	owned[t.TodoID] = t
	return nil
}

func (m *InMemory) Get(_ context.Context, userID, todoID string) (Todo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.items[userID][todoID]
	if !ok {
		return Todo{}, ErrNotFound
	}
	return t, nil
}

func (m *InMemory) Update(_ context.Context, userID, todoID string, patch Patch, now time.Time) (Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[userID][todoID]
	if !ok {
		return Todo{}, ErrNotFound
	}
	patch.Apply(&t, now)
	m.items[userID][todoID] = t
	return t, nil
}

func (m *InMemory) Delete(_ context.Context, userID, todoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[userID][todoID]; !ok {
		return ErrNotFound
	}
	delete(m.items[userID], todoID)
	return nil
}

func (m *InMemory) Query(_ context.Context, userID string) ([]Todo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Todo, 0, len(m.items[userID]))
	for _, t := range m.items[userID] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TodoID < out[j].TodoID })
	return out, nil
}

func (m *InMemory) Ping(context.Context) error { return nil }
