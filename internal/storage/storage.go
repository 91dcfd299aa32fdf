// Package storage provides the local persistent key-value store backing the
// offline queue and the device cache. Production uses the SQLite
// implementation; tests use Memory.
package storage

import (
	"sync"
)

// KV is a string key-value store. Get reports presence separately from
// errors so a missing key is not a failure.
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// Memory is an in-process KV for tests and ephemeral sessions.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
