// Package knowledge holds the product documentation index: the loader that
// opens it once per process, the vector stores behind it and the offline
// builder that produces the file-backed variant.
package knowledge

import (
	"context"
	"errors"
)

// ErrRetrieval wraps every failure raised while querying a loaded index.
// The query pipeline recovers from it by answering without context.
var ErrRetrieval = errors.New("knowledge: retrieval failed")

// DefaultEmbedModel is used when reference_content.embeddings_model_path is unset.
const DefaultEmbedModel = "sentence-transformers/all-mpnet-base-v2"

// IndexFileName is the SQLite file inside product_docs_index_path.
const IndexFileName = "vector_store.db"

// Passage is one retrieved document chunk.
type Passage struct {
	ID     string
	Text   string
	Title  string
	DocURL string
	Score  float64
}

// VectorIndex is a loaded, read-only index.
type VectorIndex interface {
	// Retrieve returns up to topK passages ordered by decreasing similarity.
	Retrieve(ctx context.Context, query string, topK int) ([]Passage, error)
}
