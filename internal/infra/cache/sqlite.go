package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/sqlite"
)

// SQLite persists history in a local database file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens path and applies the conversation migrations.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sqlite.NewDB(path)
	if err != nil {
		return nil, fmt.Errorf("cache: sqlite: %w", err)
	}
	if err := sqlite.MigrateUp(db, sqlite.SchemaConversation); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, userID, conversationID string) ([]Turn, error) {
	if err := checkKey(userID, conversationID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT query, response, provider, model, created_at
		FROM conversation_turn
		WHERE user_id = ? AND conversation_id = ?
		ORDER BY seq`, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("cache: get: %w", err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		var t Turn
		var created string
		if err := rows.Scan(&t.Query, &t.Response, &t.Provider, &t.Model, &created); err != nil {
			return nil, fmt.Errorf("cache: scan: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache: get: %w", err)
	}
	return turns, nil
}

// Append implements Store. The next sequence number is computed inside the
// insert so concurrent appends to the same conversation cannot collide.
func (s *SQLite) Append(ctx context.Context, userID, conversationID string, turn Turn) error {
	if err := checkKey(userID, conversationID); err != nil {
		return err
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_turn (user_id, conversation_id, seq, query, response, provider, model, created_at)
		SELECT ?, ?, COALESCE(MAX(seq) + 1, 0), ?, ?, ?, ?, ?
		FROM conversation_turn WHERE user_id = ? AND conversation_id = ?`,
		userID, conversationID, turn.Query, turn.Response, turn.Provider, turn.Model,
		turn.CreatedAt.UTC().Format(time.RFC3339Nano),
		userID, conversationID)
	if err != nil {
		return fmt.Errorf("cache: append: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLite) Close() error { return s.db.Close() }
