package llm

import (
	"context"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint
// (OpenAI, vLLM, text-embeddings-inference).
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbedder builds an embedder against baseURL. apiKey may be empty
// for unauthenticated in-cluster servers.
func NewOpenAIEmbedder(baseURL, apiKey, model string, httpClient *http.Client) *OpenAIEmbedder {
	cc := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cc.BaseURL = baseURL
	}
	if httpClient != nil {
		cc.HTTPClient = httpClient
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(cc), model: model}
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error) {
	model := e.model
	if req.Model != "" {
		model = req.Model
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: req.Texts,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, newInvocationError(TypeOpenAI, model, err)
	}
	if len(resp.Data) != len(req.Texts) {
		return nil, newInvocationError(TypeOpenAI, model,
			fmt.Errorf("embeddings: got %d vectors for %d texts", len(resp.Data), len(req.Texts)))
	}

	out := &EmbedResponse{Embeddings: make([][]float32, len(req.Texts)), Tokens: resp.Usage.TotalTokens}
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out.Embeddings) {
			return nil, newInvocationError(TypeOpenAI, model, fmt.Errorf("embeddings: index %d out of range", d.Index))
		}
		out.Embeddings[d.Index] = d.Embedding
	}
	return out, nil
}
