package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/llm"
)

// storeFactory opens one vector store backend. It is only invoked on the first
// load attempt, so nothing is opened for deployments that never retrieve.
type storeFactory func(ctx context.Context, rc *config.ReferenceContent, embedModel string, e llm.Embedder) (VectorIndex, error)

var storeFactories = map[string]storeFactory{
	config.VectorStoreFaiss:    newFileIndex,
	config.VectorStorePostgres: newPGIndex,
}

// errNoIndexPath marks a file-backed config without product_docs_index_path.
var errNoIndexPath = errors.New("index path is not set")

func newFileIndex(ctx context.Context, rc *config.ReferenceContent, embedModel string, e llm.Embedder) (VectorIndex, error) {
	if strings.TrimSpace(rc.ProductDocsIndexPath) == "" {
		return nil, errNoIndexPath
	}
	return openFileStore(ctx, rc.ProductDocsIndexPath, rc.ProductDocsIndexID, embedModel, e)
}

func newPGIndex(ctx context.Context, rc *config.ReferenceContent, _ string, e llm.Embedder) (VectorIndex, error) {
	if rc.Postgres == nil {
		return nil, errors.New("postgres settings are not set")
	}
	conn, err := rc.Postgres.ConnString()
	if err != nil {
		return nil, err
	}
	return openPGStore(ctx, conn, rc.ProductDocsIndexID, e)
}

// DefaultLoadTimeout bounds the one load attempt.
const DefaultLoadTimeout = 2 * time.Minute

// LoaderOption customizes an IndexLoader.
type LoaderOption func(*IndexLoader)

// WithEmbedder replaces the embedder built from configuration.
func WithEmbedder(e llm.Embedder) LoaderOption {
	return func(l *IndexLoader) { l.embedder = e }
}

// WithLoadTimeout replaces DefaultLoadTimeout. Non-positive values are ignored.
func WithLoadTimeout(d time.Duration) LoaderOption {
	return func(l *IndexLoader) {
		if d > 0 {
			l.loadTimeout = d
		}
	}
}

// IndexLoader opens the configured index at most once per process and hands
// out the resulting handle, which may be nil.
type IndexLoader struct {
	cfg      *config.ReferenceContent
	embedder    llm.Embedder
	logger      *slog.Logger
	loadTimeout time.Duration

	once      sync.Once
	attempted atomic.Bool
	index     VectorIndex
}

// NewIndexLoader never opens anything; see Load and VectorIndex.
func NewIndexLoader(cfg *config.ReferenceContent, logger *slog.Logger, opts ...LoaderOption) *IndexLoader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &IndexLoader{
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "index_loader")),
		loadTimeout: DefaultLoadTimeout,
	}
	for _, o := range opts {
		o(l)
	}
	if cfg == nil {
		l.logger.Warn("config for reference content is not set")
	}
	return l
}

// Load attempts the load eagerly. Errors are logged, never returned; calling
// it more than once has no further effect.
// The attempt does not inherit cancellation from ctx; the load timeout bounds it.
func (l *IndexLoader) Load(ctx context.Context) {
	l.once.Do(func() {
		defer l.attempted.Store(true)
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.loadTimeout)
		defer cancel()
		l.index = l.load(loadCtx)
	})
}

// VectorIndex returns the loaded index, loading it on first use. A nil result
// means answers are produced without retrieved context.
func (l *IndexLoader) VectorIndex(ctx context.Context) VectorIndex {
	l.Load(ctx)
	if l.index == nil {
		l.logger.Warn("proceeding without RAG content; either there is an error or required parameters are not set")
	}
	return l.index
}

// Attempted reports whether a load has been attempted.
func (l *IndexLoader) Attempted() bool {
	return l.attempted.Load()
}

// Close releases the backend when it holds connections. It waits for a
// load in progress and prevents any later one.
func (l *IndexLoader) Close() error {
	l.once.Do(func() {})
	if c, ok := l.index.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (l *IndexLoader) load(ctx context.Context) VectorIndex {
	if l.cfg == nil {
		return nil
	}

	embedModel := EmbedModelName(l.cfg)
	if strings.TrimSpace(l.cfg.EmbeddingsModelPath) == "" {
		l.logger.Warn("embedding model path is not set")
		l.logger.Warn("embedding model is set to default", slog.String("model", DefaultEmbedModel))
	}

	storeType := l.cfg.VectorStoreType
	if storeType == "" {
		storeType = config.VectorStoreFaiss
	}
	factory, ok := storeFactories[storeType]
	if !ok {
		l.logger.Error("unknown vector store type", slog.String("vector_store_type", storeType))
		return nil
	}

	e := l.embedder
	if e == nil {
		var err error
		if e, err = NewEmbedder(l.cfg); err != nil {
			l.logger.Error("error loading vector index", slog.String("error", err.Error()))
			return nil
		}
	}

	l.logger.Info("loading vector index",
		slog.String("vector_store_type", storeType),
		slog.String("index_id", l.cfg.ProductDocsIndexID),
		slog.String("embed_model", embedModel),
	)
	idx, err := factory(ctx, l.cfg, embedModel, e)
	if errors.Is(err, errNoIndexPath) {
		l.logger.Warn("index path is not set")
		return nil
	}
	if err != nil {
		l.logger.Error("error loading vector index", slog.String("error", fmt.Sprint(err)))
		return nil
	}
	l.logger.Info("vector index is loaded")
	return idx
}
