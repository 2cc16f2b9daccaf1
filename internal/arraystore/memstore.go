package arraystore

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

// MemStore is an in-memory Store. Nothing survives the process.
type MemStore struct {
	mu     sync.Mutex
	arrays map[string][][]byte
	info   map[string][]byte
	runs   []Run
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		arrays: make(map[string][][]byte),
		info:   make(map[string][]byte),
	}
}

func (m *MemStore) Initialize(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arrays[name] = [][]byte{}
	return nil
}

func (m *MemStore) Append(name string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunks, ok := m.arrays[name]
	if !ok {
		return fmt.Errorf("append to %s: %w", name, ErrNotFound)
	}
	m.arrays[name] = append(chunks, slices.Clone(blob))
	return nil
}

func (m *MemStore) Blobs(name string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunks, ok := m.arrays[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return slices.Clone(chunks), nil
}

func (m *MemStore) Detach(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.arrays, name)
	return nil
}

func (m *MemStore) Exists(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.arrays[name]
	return ok, nil
}

func (m *MemStore) Names() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.arrays))
	for n := range m.arrays {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemStore) PutInfo(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info[key] = slices.Clone(value)
	return nil
}

func (m *MemStore) Info() (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.info))
	for k, v := range m.info {
		out[k] = slices.Clone(v)
	}
	return out, nil
}

func (m *MemStore) RecordRun(r Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func (m *MemStore) Runs() ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.runs), nil
}

func (m *MemStore) Close() error { return nil }

// Verify at compile time that *MemStore implements Store.
var _ Store = (*MemStore)(nil)
