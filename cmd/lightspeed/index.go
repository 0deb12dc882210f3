package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/matiasleandrokruk/lightspeed/internal/domain/knowledge"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

func runIndex(args []string, out io.Writer) int {
	fs, common := newFlagSet("index")
	docs := fs.String("docs", "", "Directory of .md/.txt documents to index (required)")
	baseURL := fs.String("docs-base-url", "", "URL prefix for each document's relative path")
	output := fs.String("output", "", "Index directory (default reference_content.product_docs_index_path)")
	indexID := fs.String("index-id", "", "Index id (default reference_content.product_docs_index_id)")
	chunkSize := fs.Int("chunk-size", knowledge.DefaultChunkSize, "Chunk size in tokens")
	chunkOverlap := fs.Int("chunk-overlap", knowledge.DefaultChunkOverlap, "Overlap between chunks in tokens")
	if code, done := parseFlags(fs, common, args, out); done {
		return code
	}
	if *docs == "" {
		fmt.Fprintln(out, "index: --docs is required") //nolint:errcheck
		return 2
	}

	cfg, logger, err := loadConfig(*common.configPath)
	if err != nil {
		fmt.Fprintf(out, "index: %v\n", err) //nolint:errcheck
		return 1
	}
	rc := cfg.OLSConfig.ReferenceContent
	if rc == nil {
		rc = &config.ReferenceContent{}
	}
	opts := knowledge.BuildOptions{
		IndexPath:    firstNonEmpty(*output, rc.ProductDocsIndexPath),
		IndexID:      firstNonEmpty(*indexID, rc.ProductDocsIndexID),
		EmbedModel:   knowledge.EmbedModelName(rc),
		ChunkSize:    *chunkSize,
		ChunkOverlap: *chunkOverlap,
		DocsBaseURL:  *baseURL,
	}
	if opts.IndexPath == "" {
		fmt.Fprintln(out, "index: --output or reference_content.product_docs_index_path is required") //nolint:errcheck
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stats, err := buildIndex(ctx, rc, opts, *docs, logger)
	if err != nil {
		logger.Error("index build failed", slog.String("error", err.Error()))
		fmt.Fprintf(out, "index: %v\n", err) //nolint:errcheck
		return 1
	}
	fmt.Fprintf(out, "indexed %d documents into %d nodes at %s\n", stats.Documents, stats.Nodes, opts.IndexPath) //nolint:errcheck
	return 0
}

func buildIndex(ctx context.Context, rc *config.ReferenceContent, opts knowledge.BuildOptions, root string, logger *slog.Logger) (knowledge.BuildStats, error) {
	embedder, err := knowledge.NewEmbedder(rc)
	if err != nil {
		return knowledge.BuildStats{}, err
	}
	builder := knowledge.NewBuilder(embedder, opts, logger)
	docs, err := builder.LoadDir(root)
	if err != nil {
		return knowledge.BuildStats{}, err
	}
	if len(docs) == 0 {
		return knowledge.BuildStats{}, errors.New("no .md or .txt documents found")
	}
	return builder.Build(ctx, docs)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
