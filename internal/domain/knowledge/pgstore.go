package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/llm"
)

// pgSchema is where vecs-style collections live: one table per index with
// columns (id, vec vector(n), metadata jsonb).
const pgSchema = "vecs"

type pgStore struct {
	pool     *pgxpool.Pool
	table    string // sanitized "vecs"."<collection>"
	embedder llm.Embedder
}

// CollectionName maps an index id to its table name.
func CollectionName(indexID string) string {
	return strings.ReplaceAll(indexID, "-", "_")
}

func openPGStore(ctx context.Context, connString, indexID string, e llm.Embedder) (*pgStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &pgStore{
		pool:     pool,
		table:    pgx.Identifier{pgSchema, CollectionName(indexID)}.Sanitize(),
		embedder: e,
	}, nil
}

// Retrieve implements VectorIndex using the pgvector cosine distance operator.
func (s *pgStore) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	if topK <= 0 {
		return nil, nil
	}
	vecs, err := embedWithRetry(ctx, s.embedder, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	stmt := `SELECT id, metadata, 1 - (vec <=> $1::vector) AS score FROM ` + s.table +
		` ORDER BY vec <=> $1::vector LIMIT $2`
	rows, err := s.pool.Query(ctx, stmt, vectorLiteral(vecs[0]), topK)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %w", ErrRetrieval, s.table, err)
	}
	defer rows.Close()

	var out []Passage
	for rows.Next() {
		var (
			id    string
			meta  []byte
			score float64
		)
		if err := rows.Scan(&id, &meta, &score); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrRetrieval, err)
		}
		p := passageFromMetadata(meta)
		p.ID = id
		p.Score = score
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	return out, nil
}

// Close releases the pool.
func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

// passageFromMetadata reads title, docs_url and the node text. The text lives
// either in a plain "text" key or inside the serialized "_node_content" node.
func passageFromMetadata(raw []byte) Passage {
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Passage{}
	}
	p := Passage{
		Title:  stringField(meta, "title"),
		DocURL: stringField(meta, "docs_url"),
		Text:   stringField(meta, "text"),
	}
	if p.Text == "" {
		if content := stringField(meta, "_node_content"); content != "" {
			var nodeContent struct {
				Text string `json:"text"`
			}
			if json.Unmarshal([]byte(content), &nodeContent) == nil {
				p.Text = nodeContent.Text
			}
		}
	}
	return p
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// vectorLiteral renders the pgvector text input format, e.g. "[0.1,0.2]".
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
