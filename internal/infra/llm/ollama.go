// Ollama HTTP adapter.
// OllamaClient calls the Ollama REST API using stdlib net/http.
// Endpoints used:
//   - POST /api/embeddings: single text embedding
//   - POST /api/chat: non-streaming chat completion

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

const (
	mimeJSON          = "application/json"
	headerContentType = "Content-Type"

	ollamaDefaultURL = "http://localhost:11434"
)

// ollamaOptions are forwarded verbatim in the request "options" object.
var ollamaOptions = []string{
	ParamTemperature, ParamNumPredict, ParamTopK, ParamTopP, "repeat_penalty", "num_ctx", "seed", "stop",
}

func init() {
	Register(TypeOllama, newOllamaProvider)
}

type ollamaProvider struct {
	providerBase
}

func newOllamaProvider(model string, params Params, cfg config.ProviderConfig, opts Options) Provider {
	return &ollamaProvider{providerBase: newProviderBase(TypeOllama, model, params, cfg, opts)}
}

// Load implements Provider.
func (p *ollamaProvider) Load() (ChatModel, error) {
	if err := p.resolve(ollamaDefaultURL); err != nil {
		return nil, err
	}
	p.reconcile(Params{
		ParamBaseURL:     p.url,
		ParamModel:       p.model,
		ParamTemperature: 0.01,
		ParamNumPredict:  512,
		ParamHTTPClient:  p.newHTTPClient(),
	}, []string{ParamTopK, ParamTopP, "repeat_penalty", "num_ctx", "seed", "stop"})

	c := NewOllamaClient(p.params.Str(ParamBaseURL), p.model)
	c.httpClient = p.params.HTTPClient(c.httpClient)
	c.options = map[string]any{}
	for _, k := range ollamaOptions {
		if v, ok := p.params[k]; ok && v != nil {
			c.options[k] = v
		}
	}
	return c, nil
}

// OllamaClient talks to a running Ollama instance. It is both a ChatModel and an Embedder.
type OllamaClient struct {
	baseURL    string
	model      string
	options    map[string]any
	httpClient *http.Client
}

// NewOllamaClient creates an OllamaClient with a 30s default timeout.
func NewOllamaClient(baseURL, model string) *OllamaClient {
	if baseURL == "" {
		baseURL = ollamaDefaultURL
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ─── internal Ollama JSON types ──────────────────────────────────────────────

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         ollamaChatMessage `json:"message"`
	DoneReason      string            `json:"done_reason"`
	Done            bool              `json:"done"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
}

// ─── Embedder implementation ─────────────────────────────────────────────────

// Embed computes embeddings for each text via POST /api/embeddings (one call per text).
// Ollama does not support batch embeddings in a single call.
func (c *OllamaClient) Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error) {
	if len(req.Texts) == 0 {
		return &EmbedResponse{Embeddings: [][]float32{}}, nil
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	embeddings := make([][]float32, 0, len(req.Texts))
	for _, text := range req.Texts {
		vec, err := c.embedOne(ctx, model, text)
		if err != nil {
			return nil, fmt.Errorf("ollama embed: %w", err)
		}
		embeddings = append(embeddings, vec)
	}
	return &EmbedResponse{Embeddings: embeddings}, nil
}

// embedOne sends a single /api/embeddings call and returns the vector.
func (c *OllamaClient) embedOne(ctx context.Context, model, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, err
	}

	respBody, postErr := c.doPost(ctx, "/api/embeddings", body)
	if postErr != nil {
		return nil, postErr
	}
	defer respBody.Close()

	var ollamaResp ollamaEmbedResponse
	if decodeErr := json.NewDecoder(respBody).Decode(&ollamaResp); decodeErr != nil {
		return nil, fmt.Errorf("decode embed response: %w", decodeErr)
	}
	return ollamaResp.Embedding, nil
}

// ─── ChatModel implementation ────────────────────────────────────────────────

// Invoke performs a non-streaming chat via POST /api/chat.
func (c *OllamaClient) Invoke(ctx context.Context, messages []Message) (*ChatResponse, error) {
	msgs := make([]ollamaChatMessage, len(messages))
	for i, m := range messages {
		msgs[i] = ollamaChatMessage(m)
	}

	var opts map[string]any
	if len(c.options) > 0 {
		opts = c.options
	}
	body, err := json.Marshal(ollamaChatRequest{
		Model:    c.model,
		Messages: msgs,
		Stream:   false,
		Options:  opts,
	})
	if err != nil {
		return nil, newInvocationError(TypeOllama, c.model, err)
	}

	respBody, postErr := c.doPost(ctx, "/api/chat", body)
	if postErr != nil {
		return nil, postErr
	}
	defer respBody.Close()

	var ollamaResp ollamaChatResponse
	if decodeErr := json.NewDecoder(respBody).Decode(&ollamaResp); decodeErr != nil {
		return nil, newInvocationError(TypeOllama, c.model, fmt.Errorf("decode chat response: %w", decodeErr))
	}
	return &ChatResponse{
		Content:      ollamaResp.Message.Content,
		StopReason:   ollamaResp.DoneReason,
		InputTokens:  ollamaResp.PromptEvalCount,
		OutputTokens: ollamaResp.EvalCount,
	}, nil
}

// ModelInfo returns static metadata for this provider/model.
func (c *OllamaClient) ModelInfo() ModelMeta {
	return ModelMeta{ID: c.model, Provider: TypeOllama}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// doPost sends a POST request to baseURL+path and returns the response body.
// Caller is responsible for closing the returned ReadCloser.
func (c *OllamaClient) doPost(ctx context.Context, path string, body []byte) (io.ReadCloser, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, newInvocationError(TypeOllama, c.model, fmt.Errorf("post %s: build request: %w", path, err))
	}
	req.Header.Set(headerContentType, mimeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newInvocationError(TypeOllama, c.model, fmt.Errorf("post %s: %w", path, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close() //nolint:errcheck
		return nil, &InvocationError{
			Provider:   TypeOllama,
			Model:      c.model,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("post %s: status %d", path, resp.StatusCode),
		}
	}
	return resp.Body, nil
}
