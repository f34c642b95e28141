// Package store persists plugin and extension state as JSON documents under
// namespaced string keys.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrClosed indicates the backing database is unavailable.
var ErrClosed = errors.New("store: closed")

// Store is the key/value contract used by the dispatcher and the plugins.
// Only the dispatch goroutine writes; implementations still lock so that
// the status API can read concurrently.
type Store interface {
	// Load decodes the value under key into v. found is false when the key
	// has never been saved.
	Load(key string, v any) (found bool, err error)

	// Save encodes v and replaces the value under key.
	Save(key string, v any) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// Keys lists every stored key in lexical order.
	Keys() ([]string, error)

	// Raw returns the encoded document under key.
	Raw(key string) (string, bool, error)
}

func encode(key string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return string(data), nil
}

func decode(key, raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Load(key string, v any) (bool, error) {
	raw, ok, _ := m.Raw(key)
	if !ok {
		return false, nil
	}
	return true, decode(key, raw, v)
}

func (m *Memory) Save(key string, v any) error {
	raw, err := encode(key, v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Raw(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.data[key]
	return raw, ok, nil
}
