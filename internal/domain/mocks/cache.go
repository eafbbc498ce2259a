package mocks

import (
	"context"
	"sync"
)

// CheckCache is an in-memory implementation of ports.CheckCache.
type CheckCache struct {
	Err error

	mu      sync.Mutex
	entries map[string][]byte
	Hits    int
	Misses  int
}

// Get returns a stored value.
func (m *CheckCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, false, m.Err
	}
	v, ok := m.entries[key]
	if ok {
		m.Hits++
	} else {
		m.Misses++
	}
	return v, ok, nil
}

// Set stores a value.
func (m *CheckCache) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.entries == nil {
		m.entries = make(map[string][]byte)
	}
	m.entries[key] = append([]byte(nil), value...)
	return nil
}

// Len returns the number of stored entries.
func (m *CheckCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
