package store

import (
	"sort"
	"strings"
	"sync"
)

// Memory is an in-memory Store used by unit tests and by the reconciliation
// engine's own test suite (see SPEC_FULL.md §8 "Ambient test tooling").
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *Memory) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) List(prefix, cursor string, limit int) (map[string][]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) && k > cursor {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make(map[string][]byte)
	next := ""
	for i, k := range keys {
		if limit > 0 && i >= limit {
			next = keys[i-1]
			break
		}
		out[k] = m.data[k]
	}
	return out, next, nil
}

func (m *Memory) Close() error { return nil }
