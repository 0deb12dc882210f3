package cache

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Memory keeps the most recently used conversations in process. The least
// recently touched conversation is evicted once maxEntries is exceeded.
type Memory struct {
	mu    sync.Mutex // serializes read-modify-write in Append
	items *lru.Cache[string, []Turn]
}

func NewMemory(maxEntries int) (*Memory, error) {
	c, err := lru.New[string, []Turn](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("cache: memory: %w", err)
	}
	return &Memory{items: c}, nil
}

func memoryKey(userID, conversationID string) string {
	return userID + "/" + conversationID
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, userID, conversationID string) ([]Turn, error) {
	if err := checkKey(userID, conversationID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	turns, _ := m.items.Get(memoryKey(userID, conversationID))
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Append implements Store.
func (m *Memory) Append(_ context.Context, userID, conversationID string, turn Turn) error {
	if err := checkKey(userID, conversationID); err != nil {
		return err
	}
	key := memoryKey(userID, conversationID)
	m.mu.Lock()
	defer m.mu.Unlock()
	turns, _ := m.items.Get(key)
	next := make([]Turn, len(turns), len(turns)+1)
	copy(next, turns)
	m.items.Add(key, append(next, turn))
	return nil
}

// Len is the number of conversations currently held.
func (m *Memory) Len() int { return m.items.Len() }

// Close implements Store.
func (m *Memory) Close() error {
	m.items.Purge()
	return nil
}
