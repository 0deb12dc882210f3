package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/llm"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/sqlite"
)

// fileStore is the file-backed index: every node of one index id is read
// from <index_path>/vector_store.db at load time and searched in memory.
type fileStore struct {
	nodes    []node
	embedder llm.Embedder
}

type node struct {
	id     string
	title  string
	docURL string
	text   string
	vec    []float32
	norm   float64
}

// openFileStore loads the index. Rows whose embedding cannot be decoded or
// whose model differs from embedModel are skipped.
func openFileStore(ctx context.Context, indexPath, indexID, embedModel string, e llm.Embedder) (*fileStore, error) {
	db, err := sqlite.OpenReadOnly(filepath.Join(indexPath, IndexFileName))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer db.Close()

	nodes, err := loadNodes(ctx, db, indexID, embedModel)
	if err != nil {
		return nil, err
	}
	return &fileStore{nodes: nodes, embedder: e}, nil
}

func loadNodes(ctx context.Context, db *sql.DB, indexID, embedModel string) ([]node, error) {
	query := `SELECT id, title, doc_url, text, embedding, embed_model FROM vector_node`
	var args []any
	if indexID != "" {
		query += ` WHERE index_id = ?`
		args = append(args, indexID)
	}
	query += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	defer rows.Close()

	var nodes []node
	for rows.Next() {
		var n node
		var raw, model string
		if err := rows.Scan(&n.id, &n.title, &n.docURL, &n.text, &raw, &model); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		if model != embedModel {
			continue
		}
		vec, decErr := decodeEmbedding(raw)
		if decErr != nil || len(vec) == 0 {
			continue // skip malformed vectors
		}
		n.vec = vec
		n.norm = l2norm(vec)
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

// Retrieve implements VectorIndex with brute-force cosine similarity.
func (s *fileStore) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	if topK <= 0 || len(s.nodes) == 0 {
		return nil, nil
	}
	vecs, err := embedWithRetry(ctx, s.embedder, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	q := vecs[0]
	qnorm := l2norm(q)

	type scored struct {
		idx   int
		score float64
	}
	all := make([]scored, 0, len(s.nodes))
	for i, n := range s.nodes {
		if len(n.vec) != len(q) {
			continue
		}
		all = append(all, scored{idx: i, score: cosine(q, n.vec, qnorm, n.norm)})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	out := make([]Passage, 0, min(topK, len(all)))
	for i := 0; i < len(all) && i < topK; i++ {
		n := s.nodes[all[i].idx]
		out = append(out, Passage{ID: n.id, Text: n.text, Title: n.title, DocURL: n.docURL, Score: all[i].score})
	}
	return out, nil
}

// cosine returns 0 when either vector has zero magnitude.
func cosine(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}

func l2norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// encodeEmbedding serialises a vector to JSON TEXT for storage.
// e.g. [0.1, 0.2, 0.3] → "[0.1,0.2,0.3]"
func encodeEmbedding(vec []float32) (string, error) {
	b, err := json.Marshal(vec)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeEmbedding(raw string) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, err
	}
	return vec, nil
}
