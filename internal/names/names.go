// Package names maps chat users to the names the bot calls them by.
package names

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/shouya/fondbot/internal/chat"
	"github.com/shouya/fondbot/internal/store"
)

const StoreKey = "exts.name-map"

type Map struct {
	mu     sync.RWMutex
	names  map[chat.UserID]string
	store  store.Store
	logger *zap.Logger
}

// New loads the map from the store, seeding it from seed ("id->name,...")
// when nothing is stored yet.
func New(s store.Store, seed string, logger *zap.Logger) (*Map, error) {
	m := &Map{
		names:  make(map[chat.UserID]string),
		store:  s,
		logger: logger.Named("names"),
	}
	found, err := s.Load(StoreKey, &m.names)
	if err != nil {
		return nil, fmt.Errorf("failed to load name map: %w", err)
	}
	if found {
		return m, nil
	}

	for _, pair := range strings.Split(seed, ",") {
		idPart, name, ok := strings.Cut(strings.TrimSpace(pair), "->")
		if !ok {
			if pair != "" {
				m.logger.Warn("Skipping malformed name entry", zap.String("entry", pair))
			}
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
		name = strings.TrimSpace(name)
		if err != nil || name == "" {
			m.logger.Warn("Skipping malformed name entry", zap.String("entry", pair))
			continue
		}
		m.names[chat.UserID(id)] = name
	}
	if err := m.persist(); err != nil {
		return nil, err
	}
	return m, nil
}

// Resolve returns the configured name for u, falling back to the profile.
func (m *Map) Resolve(u chat.User) string {
	m.mu.RLock()
	name, ok := m.names[u.ID]
	m.mu.RUnlock()
	switch {
	case ok:
		return name
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return u.Username
	}
	return fmt.Sprintf("user %d", u.ID)
}

// Set changes the name for a user and persists the map.
func (m *Map) Set(id chat.UserID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	m.mu.Lock()
	m.names[id] = name
	m.mu.Unlock()
	return m.persist()
}

func (m *Map) persist() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.store.Save(StoreKey, m.names); err != nil {
		return fmt.Errorf("failed to persist name map: %w", err)
	}
	return nil
}
