// Package cache stores conversation history per (user, conversation).
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

// ErrInvalidKey is returned when user or conversation id is empty.
var ErrInvalidKey = errors.New("cache: user_id and conversation_id are required")

// Turn is one question/answer exchange.
type Turn struct {
	Query     string
	Response  string
	Provider  string
	Model     string
	CreatedAt time.Time
}

// Store is a conversation history backend. Implementations are safe for
// concurrent use.
type Store interface {
	// Get returns the turns of a conversation, oldest first. Unknown
	// conversations yield an empty slice.
	Get(ctx context.Context, userID, conversationID string) ([]Turn, error)
	// Append adds a turn at the end of a conversation.
	Append(ctx context.Context, userID, conversationID string, turn Turn) error
	// Close releases the backend.
	Close() error
}

// New builds the store selected by cfg.Type.
func New(ctx context.Context, cfg config.ConversationCacheConfig) (Store, error) {
	switch cfg.Type {
	case config.CacheMemory, "":
		return NewMemory(cfg.Memory.MaxEntries)
	case config.CacheSQLite:
		return NewSQLite(cfg.SQLite.Path)
	case config.CachePostgres:
		if cfg.Postgres == nil {
			return nil, errors.New("cache: postgres settings are not set")
		}
		conn, err := cfg.Postgres.ConnString()
		if err != nil {
			return nil, err
		}
		return NewPostgres(ctx, conn)
	default:
		return nil, fmt.Errorf("cache: unknown type %q", cfg.Type)
	}
}

func checkKey(userID, conversationID string) error {
	if userID == "" || conversationID == "" {
		return ErrInvalidKey
	}
	return nil
}
