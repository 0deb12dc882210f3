package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchemaDDL = `
CREATE TABLE IF NOT EXISTS conversation_turn (
    user_id          TEXT        NOT NULL,
    conversation_id  TEXT        NOT NULL,
    seq              INTEGER     NOT NULL,
    query            TEXT        NOT NULL,
    response         TEXT        NOT NULL,
    provider         TEXT        NOT NULL DEFAULT '',
    model            TEXT        NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, conversation_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_conversation_turn_created_at ON conversation_turn (created_at);
`

// pgUniqueViolation is the SQLSTATE for a primary key collision.
const pgUniqueViolation = "23505"

// appendAttempts bounds retries when two replicas race on the same seq.
const appendAttempts = 3

// Postgres shares history between replicas.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects and creates the table when missing.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("cache: postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cache: postgres: create schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Get implements Store.
func (p *Postgres) Get(ctx context.Context, userID, conversationID string) ([]Turn, error) {
	if err := checkKey(userID, conversationID); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, `
		SELECT query, response, provider, model, created_at
		FROM conversation_turn
		WHERE user_id = $1 AND conversation_id = $2
		ORDER BY seq`, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("cache: get: %w", err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Query, &t.Response, &t.Provider, &t.Model, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("cache: scan: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache: get: %w", err)
	}
	return turns, nil
}

// Append implements Store.
func (p *Postgres) Append(ctx context.Context, userID, conversationID string, turn Turn) error {
	if err := checkKey(userID, conversationID); err != nil {
		return err
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	var err error
	for range appendAttempts {
		_, err = p.pool.Exec(ctx, `
			INSERT INTO conversation_turn (user_id, conversation_id, seq, query, response, provider, model, created_at)
			SELECT $1, $2, COALESCE(MAX(seq) + 1, 0), $3, $4, $5, $6, $7
			FROM conversation_turn WHERE user_id = $1 AND conversation_id = $2`,
			userID, conversationID, turn.Query, turn.Response, turn.Provider, turn.Model, turn.CreatedAt)
		if !isUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("cache: append: %w", err)
	}
	return nil
}

// Close implements Store.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
