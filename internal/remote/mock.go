package remote

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Write records a mutation attempted against the mock store.
type Write struct {
	Kind   string // "set" or "update"
	Path   string
	Value  any
	Fields map[string]any
	Time   time.Time
}

// Mock implements Store and Connectivity in memory for tests: a path tree,
// an online flag driving connectivity events, per-path write-failure
// injection, and a full record of attempted writes.
type Mock struct {
	mu        sync.Mutex
	values    map[string]json.RawMessage
	online    bool
	failPaths map[string]bool
	failAll   bool
	writes    []Write

	watches   []watchEntry
	connSubs  []connEntry
	nextSubID int
}

// NewMock returns an offline, empty mock store. Use SetOnline to bring it up.
func NewMock() *Mock {
	return &Mock{
		values:    make(map[string]json.RawMessage),
		failPaths: make(map[string]bool),
	}
}

// IsOnline reports the simulated link state.
func (m *Mock) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline flips the simulated link state, firing connectivity handlers on
// a transition.
func (m *Mock) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	entries := append([]connEntry(nil), m.connSubs...)
	m.mu.Unlock()

	if !changed {
		return
	}
	for _, entry := range entries {
		entry.handler(online)
	}
}

// OnConnectivityChange registers a handler for online/offline transitions.
func (m *Mock) OnConnectivityChange(handler ConnectivityHandler) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	subID := m.nextSubID
	m.nextSubID++
	m.connSubs = append(m.connSubs, connEntry{subID: subID, handler: handler})
	return &mockSubscription{mock: m, subID: subID, connectivity: true}
}

// FailWritesAt makes every write under path fail until cleared.
func (m *Mock) FailWritesAt(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPaths[path] = true
}

// ClearFailures removes all injected write failures.
func (m *Mock) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPaths = make(map[string]bool)
	m.failAll = false
}

// FailAllWrites makes every write fail until cleared.
func (m *Mock) FailAllWrites() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = true
}

func (m *Mock) writeShouldFail(path string) bool {
	if m.failAll {
		return true
	}
	for failed := range m.failPaths {
		if pathCovers(failed, path) {
			return true
		}
	}
	return false
}

// Get reads the exact path, or aggregates immediate children into an
// id-keyed object so collection paths behave hierarchically.
func (m *Mock) Get(path string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.online {
		return nil, ErrOffline
	}
	if value, ok := m.values[path]; ok {
		return value, nil
	}

	children := make(map[string]json.RawMessage)
	prefix := path + "/"
	for key, value := range m.values {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		child := strings.TrimPrefix(key, prefix)
		if strings.Contains(child, "/") {
			continue
		}
		children[child] = value
	}
	if len(children) == 0 {
		return nil, ErrNotFound
	}
	raw, err := json.Marshal(children)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Set replaces the value at path.
func (m *Mock) Set(path string, value any) error {
	m.mu.Lock()
	if !m.online {
		m.mu.Unlock()
		return ErrOffline
	}
	m.writes = append(m.writes, Write{Kind: "set", Path: path, Value: value, Time: time.Now()})
	if m.writeShouldFail(path) {
		m.mu.Unlock()
		return fmt.Errorf("injected write failure at %s", path)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.values[path] = raw
	entries := append([]watchEntry(nil), m.watches...)
	m.mu.Unlock()

	m.notify(entries, path, raw)
	return nil
}

// Update merges fields into the object at path, creating it if absent.
func (m *Mock) Update(path string, fields map[string]any) error {
	m.mu.Lock()
	if !m.online {
		m.mu.Unlock()
		return ErrOffline
	}
	m.writes = append(m.writes, Write{Kind: "update", Path: path, Fields: fields, Time: time.Now()})
	if m.writeShouldFail(path) {
		m.mu.Unlock()
		return fmt.Errorf("injected write failure at %s", path)
	}

	current := make(map[string]json.RawMessage)
	if existing, ok := m.values[path]; ok {
		if err := json.Unmarshal(existing, &current); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("update non-object at %s: %w", path, err)
		}
	}
	for field, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		current[field] = raw
	}
	raw, err := json.Marshal(current)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.values[path] = raw
	entries := append([]watchEntry(nil), m.watches...)
	m.mu.Unlock()

	m.notify(entries, path, raw)
	return nil
}

// Subscribe watches path and everything beneath it.
func (m *Mock) Subscribe(path string, handler ChangeHandler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subID := m.nextSubID
	m.nextSubID++
	m.watches = append(m.watches, watchEntry{subID: subID, path: path, handler: handler})
	return &mockSubscription{mock: m, subID: subID}, nil
}

func (m *Mock) notify(entries []watchEntry, path string, value json.RawMessage) {
	for _, entry := range entries {
		if pathCovers(entry.path, path) {
			entry.handler(path, value)
		}
	}
}

// Seed stores a value without connectivity checks or write recording.
func (m *Mock) Seed(path string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		panic(fmt.Sprintf("seed %s: %v", path, err))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[path] = raw
}

// SeedRaw stores a raw JSON document without validation, for malformed-data
// tests.
func (m *Mock) SeedRaw(path string, raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[path] = json.RawMessage(raw)
}

// ValueAt decodes the stored value at path into target.
func (m *Mock) ValueAt(path string, target any) error {
	m.mu.Lock()
	raw, ok := m.values[path]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, target)
}

// Writes returns a copy of all recorded write attempts.
func (m *Mock) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	writes := make([]Write, len(m.writes))
	copy(writes, m.writes)
	return writes
}

// WritesAt returns recorded write attempts touching path or its children.
func (m *Mock) WritesAt(path string) []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Write
	for _, w := range m.writes {
		if pathCovers(path, w.Path) {
			matched = append(matched, w)
		}
	}
	return matched
}

// ClearWrites drops the recorded write history.
func (m *Mock) ClearWrites() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = nil
}

type mockSubscription struct {
	mock         *Mock
	subID        int
	connectivity bool
}

func (s *mockSubscription) Unsubscribe() error {
	m := s.mock
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.connectivity {
		for i, entry := range m.connSubs {
			if entry.subID == s.subID {
				m.connSubs = append(m.connSubs[:i], m.connSubs[i+1:]...)
				break
			}
		}
		return nil
	}
	for i, entry := range m.watches {
		if entry.subID == s.subID {
			m.watches = append(m.watches[:i], m.watches[i+1:]...)
			break
		}
	}
	return nil
}
