package knowledge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/llm"
)

const (
	embedTimeout     = 30 * time.Second
	embedMaxTries    = 3
	embedBaseDelay   = 100 * time.Millisecond
	defaultOllamaURL = "http://localhost:11434"
)

// EmbedModelName returns the model identifier for embeddings_model_path:
// the base name of a local model directory, or DefaultEmbedModel.
func EmbedModelName(rc *config.ReferenceContent) string {
	if rc == nil || strings.TrimSpace(rc.EmbeddingsModelPath) == "" {
		return DefaultEmbedModel
	}
	return filepath.Base(filepath.Clean(rc.EmbeddingsModelPath))
}

// NewEmbedder builds the embedding client described by rc.Embeddings.
func NewEmbedder(rc *config.ReferenceContent) (llm.Embedder, error) {
	if rc == nil {
		return nil, fmt.Errorf("knowledge: no reference content configured")
	}
	model := EmbedModelName(rc)

	switch rc.Embeddings.Type {
	case config.EmbeddingsOpenAI:
		if rc.Embeddings.URL == "" {
			return nil, fmt.Errorf("knowledge: embeddings url is required for type %q", rc.Embeddings.Type)
		}
		key, err := llm.ResolveCredential(rc.Embeddings.CredentialsPath)
		if err != nil {
			return nil, fmt.Errorf("knowledge: embeddings credentials: %w", err)
		}
		return llm.NewOpenAIEmbedder(rc.Embeddings.URL, key, model, &http.Client{Timeout: embedTimeout}), nil
	case config.EmbeddingsOllama, "":
		url := rc.Embeddings.URL
		if url == "" {
			url = defaultOllamaURL
		}
		return llm.NewOllamaClient(url, model), nil
	default:
		return nil, fmt.Errorf("knowledge: unknown embeddings type %q", rc.Embeddings.Type)
	}
}

// embedWithRetry calls Embed with exponential backoff (100ms, 200ms, ...).
// Configuration errors are not retried.
func embedWithRetry(ctx context.Context, e llm.Embedder, texts []string) ([][]float32, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = embedBaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	op := func() ([][]float32, error) {
		resp, err := e.Embed(ctx, llm.EmbedRequest{Texts: texts})
		if err != nil {
			if isPermanent(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if len(resp.Embeddings) != len(texts) {
			return nil, backoff.Permanent(fmt.Errorf("embedder returned %d vectors for %d texts", len(resp.Embeddings), len(texts)))
		}
		return resp.Embeddings, nil
	}

	vecs, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(embedMaxTries),
	)
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}
	return vecs, nil
}

// isPermanent is true for 4xx invocation errors other than 429.
func isPermanent(err error) bool {
	var inv *llm.InvocationError
	if !errors.As(err, &inv) {
		return false
	}
	return !inv.Retryable()
}
