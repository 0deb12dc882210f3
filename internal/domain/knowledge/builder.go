package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/llm"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/sqlite"
)

// Ingestion defaults.
const (
	DefaultChunkSize    = 380
	DefaultChunkOverlap = 0
	defaultBatchSize    = 32
)

// Document is one source file handed to the builder.
type Document struct {
	Title   string
	DocURL  string
	Content string
}

// BuildOptions control where and how the file-backed index is written.
type BuildOptions struct {
	IndexPath    string // directory; IndexFileName is created inside
	IndexID      string
	EmbedModel   string
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	// DocsBaseURL is prefixed to each file's relative path to form its doc URL.
	DocsBaseURL string
}

// BuildStats summarizes one Build run.
type BuildStats struct {
	Documents int
	Nodes     int
}

// Builder produces the SQLite index read by the file-backed store.
type Builder struct {
	embedder llm.Embedder
	opts     BuildOptions
	logger   *slog.Logger
}

// NewBuilder fills zero-valued options with the ingestion defaults.
func NewBuilder(e llm.Embedder, opts BuildOptions, logger *slog.Logger) *Builder {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = DefaultChunkOverlap
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.EmbedModel == "" {
		opts.EmbedModel = DefaultEmbedModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{embedder: e, opts: opts, logger: logger.With(slog.String("component", "index_builder"))}
}

// LoadDir reads every .md and .txt file under root.
func (b *Builder) LoadDir(root string) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		content := string(raw)
		docs = append(docs, Document{
			Title:   documentTitle(content, rel),
			DocURL:  b.docURL(rel),
			Content: content,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: load docs from %s: %w", root, err)
	}
	return docs, nil
}

// Build replaces every node of opts.IndexID with freshly chunked and
// embedded documents. The write happens in one transaction, so a failed run
// leaves the previous index intact.
func (b *Builder) Build(ctx context.Context, docs []Document) (BuildStats, error) {
	if b.opts.IndexPath == "" {
		return BuildStats{}, fmt.Errorf("knowledge: build: index path is required")
	}
	if err := os.MkdirAll(b.opts.IndexPath, 0o755); err != nil {
		return BuildStats{}, fmt.Errorf("knowledge: build: %w", err)
	}

	type pending struct {
		id   string
		doc  Document
		text string
		vec  []float32
	}
	var nodes []pending
	for _, d := range docs {
		for i, c := range ChunkMarkdown(d.Content, b.opts.ChunkSize, b.opts.ChunkOverlap) {
			nodes = append(nodes, pending{id: nodeID(b.opts.IndexID, d.DocURL, i), doc: d, text: c})
		}
	}

	for start := 0; start < len(nodes); start += b.opts.BatchSize {
		end := min(start+b.opts.BatchSize, len(nodes))
		texts := make([]string, 0, end-start)
		for _, n := range nodes[start:end] {
			texts = append(texts, n.text)
		}
		vecs, err := embedWithRetry(ctx, b.embedder, texts)
		if err != nil {
			return BuildStats{}, fmt.Errorf("knowledge: build: %w", err)
		}
		for i, v := range vecs {
			nodes[start+i].vec = v
		}
		b.logger.Debug("embedded batch", slog.Int("from", start), slog.Int("to", end))
	}

	db, err := sqlite.NewDB(filepath.Join(b.opts.IndexPath, IndexFileName))
	if err != nil {
		return BuildStats{}, fmt.Errorf("knowledge: build: %w", err)
	}
	defer db.Close()
	if err := sqlite.MigrateUp(db, sqlite.SchemaIndex); err != nil {
		return BuildStats{}, fmt.Errorf("knowledge: build: %w", err)
	}

	err = withTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vector_node WHERE index_id = ?`, b.opts.IndexID); err != nil {
			return fmt.Errorf("clear index: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO vector_node
			(id, index_id, title, doc_url, text, embedding, embed_model) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, n := range nodes {
			emb, err := encodeEmbedding(n.vec)
			if err != nil {
				return fmt.Errorf("encode embedding %s: %w", n.id, err)
			}
			if _, err := stmt.ExecContext(ctx, n.id, b.opts.IndexID, n.doc.Title, n.doc.DocURL, n.text, emb, b.opts.EmbedModel); err != nil {
				return fmt.Errorf("insert node %s: %w", n.id, err)
			}
		}
		return nil
	})
	if err != nil {
		return BuildStats{}, fmt.Errorf("knowledge: build: %w", err)
	}

	stats := BuildStats{Documents: len(docs), Nodes: len(nodes)}
	b.logger.Info("index built",
		slog.String("index_id", b.opts.IndexID),
		slog.Int("documents", stats.Documents),
		slog.Int("nodes", stats.Nodes),
	)
	return stats, nil
}

func (b *Builder) docURL(rel string) string {
	rel = filepath.ToSlash(rel)
	if b.opts.DocsBaseURL == "" {
		return rel
	}
	return strings.TrimRight(b.opts.DocsBaseURL, "/") + "/" + rel
}

// documentTitle is the first Markdown heading, else the file name without extension.
func documentTitle(content, rel string) string {
	for _, s := range SplitMarkdown(content) {
		if s.Heading != "" {
			return s.Heading
		}
	}
	base := filepath.Base(rel)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// nodeID is stable across rebuilds of the same document set.
func nodeID(indexID, docURL string, i int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, fmt.Appendf(nil, "%s|%s|%d", indexID, docURL, i)).String()
}

func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
