// Package guard decides which chats the bot serves.
package guard

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/shouya/fondbot/internal/chat"
	"github.com/shouya/fondbot/internal/store"
)

// StoreKey is where the admitted set is persisted.
const StoreKey = "exts.safety-guard"

// DefaultDenial is sent to chats that are not admitted.
const DefaultDenial = "You're not permitted to use this bot. This incident will be reported."

// Guard holds the set of admitted chats. Nothing is admitted implicitly.
type Guard struct {
	mu       sync.RWMutex
	admitted map[chat.ChatID]struct{}
	store    store.Store
	logger   *zap.Logger
}

// New loads the admitted set from the store. On first run, when nothing has
// been persisted yet, the set is seeded from seed (comma separated chat ids)
// and saved.
func New(s store.Store, seed string, logger *zap.Logger) (*Guard, error) {
	g := &Guard{
		admitted: make(map[chat.ChatID]struct{}),
		store:    s,
		logger:   logger.Named("guard"),
	}

	var ids []chat.ChatID
	found, err := s.Load(StoreKey, &ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load safety guard: %w", err)
	}
	if !found {
		ids = g.parseSeed(seed)
		g.logger.Info("Seeding safety guard", zap.Int("chats", len(ids)))
	}
	for _, id := range ids {
		g.admitted[id] = struct{}{}
	}
	if !found {
		if err := g.persist(); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Guard) parseSeed(seed string) []chat.ChatID {
	var ids []chat.ChatID
	for _, part := range strings.Split(seed, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			g.logger.Warn("Skipping unparsable chat id", zap.String("value", part))
			continue
		}
		ids = append(ids, chat.ChatID(id))
	}
	return ids
}

// IsAdmitted reports whether events from the chat may reach plugins.
func (g *Guard) IsAdmitted(id chat.ChatID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.admitted[id]
	return ok
}

// Admit adds a chat and persists the set. Admitting twice is a no-op.
func (g *Guard) Admit(id chat.ChatID) error {
	g.mu.Lock()
	if _, ok := g.admitted[id]; ok {
		g.mu.Unlock()
		return nil
	}
	g.admitted[id] = struct{}{}
	g.mu.Unlock()

	g.logger.Info("Chat admitted", zap.Int64("chat_id", int64(id)))
	return g.persist()
}

// Revoke removes a chat and persists the set.
func (g *Guard) Revoke(id chat.ChatID) error {
	g.mu.Lock()
	if _, ok := g.admitted[id]; !ok {
		g.mu.Unlock()
		return nil
	}
	delete(g.admitted, id)
	g.mu.Unlock()

	g.logger.Info("Chat revoked", zap.Int64("chat_id", int64(id)))
	return g.persist()
}

// List returns the admitted chats in ascending order.
func (g *Guard) List() []chat.ChatID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]chat.ChatID, 0, len(g.admitted))
	for id := range g.admitted {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (g *Guard) persist() error {
	if err := g.store.Save(StoreKey, g.List()); err != nil {
		return fmt.Errorf("failed to persist safety guard: %w", err)
	}
	return nil
}
