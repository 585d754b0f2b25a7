package sharedstore

import (
	"context"
	"sync"
)

// MemoryBackend is an in-process backend for tests and single-process runs.
type MemoryBackend struct {
	mu      sync.RWMutex
	values  map[string][]byte
	version int64
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string][]byte)}
}

func (m *MemoryBackend) Load(ctx context.Context) (map[string][]byte, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyValues(), m.version, nil
}

func (m *MemoryBackend) Update(ctx context.Context, fn func(current map[string][]byte) (Changes, error)) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	changes, err := fn(m.copyValues())
	if err != nil {
		return 0, err
	}
	for _, key := range changes.Delete {
		delete(m.values, key)
	}
	for key, value := range changes.Set {
		m.values[key] = append([]byte(nil), value...)
	}
	m.version++
	return m.version, nil
}

func (m *MemoryBackend) Version(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version, nil
}

func (m *MemoryBackend) Close() error { return nil }

// Put stores a raw value, bypassing encoding.
func (m *MemoryBackend) Put(key string, value []byte) {
	m.mu.Lock()
	m.values[key] = value
	m.version++
	m.mu.Unlock()
}

func (m *MemoryBackend) copyValues() map[string][]byte {
	out := make(map[string][]byte, len(m.values))
	for k, v := range m.values {
		out[k] = append([]byte(nil), v...)
	}
	return out
}
