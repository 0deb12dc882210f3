// Unit tests for OllamaClient.
// Uses httptest.NewServer to mock the Ollama HTTP API.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

// ============================================================================
// Embed tests
// ============================================================================

func TestOllamaClient_Embed_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" || r.Method != http.MethodPost {
			http.Error(w, "unexpected path", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}}) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "nomic-embed-text")
	resp, err := c.Embed(context.Background(), EmbedRequest{Texts: []string{"hello world"}})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(resp.Embeddings) != 1 {
		t.Fatalf("expected 1 embedding, got %d", len(resp.Embeddings))
	}
	if len(resp.Embeddings[0]) != 3 {
		t.Errorf("expected 3 dims, got %d", len(resp.Embeddings[0]))
	}
}

func TestOllamaClient_Embed_MultiText_CallsOncePerText(t *testing.T) {
	t.Parallel()

	callCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.5}}) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "nomic-embed-text")
	resp, err := c.Embed(context.Background(), EmbedRequest{Texts: []string{"a", "b", "c"}})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 HTTP calls (one per text), got %d", callCount)
	}
	if len(resp.Embeddings) != 3 {
		t.Errorf("expected 3 embeddings, got %d", len(resp.Embeddings))
	}
}

func TestOllamaClient_Embed_ServerError_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "nomic-embed-text")
	_, err := c.Embed(context.Background(), EmbedRequest{Texts: []string{"hello"}})
	if err == nil {
		t.Error("expected error for 500 response, got nil")
	}
}

func TestOllamaClient_Embed_EmptyTexts_ReturnsEmptyEmbeddings(t *testing.T) {
	t.Parallel()

	c := NewOllamaClient("http://localhost:99999", "nomic-embed-text")
	resp, err := c.Embed(context.Background(), EmbedRequest{Texts: []string{}})
	if err != nil {
		t.Fatalf("expected no error for empty texts, got %v", err)
	}
	if len(resp.Embeddings) != 0 {
		t.Errorf("expected 0 embeddings, got %d", len(resp.Embeddings))
	}
}

// ============================================================================
// Invoke tests
// ============================================================================

func TestOllamaClient_Invoke_Success(t *testing.T) {
	t.Parallel()

	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			http.Error(w, "unexpected path", http.StatusNotFound)
			return
		}
		json.NewDecoder(r.Body).Decode(&got) //nolint:errcheck
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaChatResponse{ //nolint:errcheck
			Message:         ollamaChatMessage{Role: "assistant", Content: "Hello from Ollama"},
			DoneReason:      "stop",
			Done:            true,
			PromptEvalCount: 7,
			EvalCount:       4,
		})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "llama3.2:3b")
	resp, err := c.Invoke(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if resp.Content != "Hello from Ollama" {
		t.Errorf("expected 'Hello from Ollama', got %q", resp.Content)
	}
	if resp.StopReason != "stop" {
		t.Errorf("expected StopReason 'stop', got %q", resp.StopReason)
	}
	if resp.InputTokens != 7 || resp.OutputTokens != 4 {
		t.Errorf("unexpected token counts %d/%d", resp.InputTokens, resp.OutputTokens)
	}
	if got.Options != nil {
		t.Errorf("expected no options for a bare client, got %v", got.Options)
	}
}

func TestOllamaClient_Invoke_ServerError_ReturnsInvocationError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "llama3.2:3b")
	_, err := c.Invoke(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if !errors.Is(err, ErrLLMInvocation) {
		t.Fatalf("expected ErrLLMInvocation, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("expected 400 to be non-retryable")
	}
}

// ============================================================================
// Provider tests
// ============================================================================

func TestOllamaProvider_Load_ForwardsOptions(t *testing.T) {
	t.Parallel()

	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got) //nolint:errcheck
		json.NewEncoder(w).Encode(ollamaChatResponse{Message: ollamaChatMessage{Role: "assistant", Content: "ok"}}) //nolint:errcheck
	}))
	defer srv.Close()

	p := newOllamaProvider("llama3.2:3b", Params{ParamNumPredict: 4, ParamTopK: 5, "bogus": 1}, config.ProviderConfig{
		Name:   "local",
		Type:   TypeOllama,
		URL:    srv.URL,
		Models: []config.ModelConfig{{Name: "llama3.2:3b"}},
	}, Options{})
	m, err := p.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := m.Invoke(context.Background(), []Message{{Role: "user", Content: "hi"}}); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if got.Options["num_predict"] != float64(4) {
		t.Errorf("expected num_predict 4, got %v", got.Options["num_predict"])
	}
	if got.Options["top_k"] != float64(5) {
		t.Errorf("expected top_k 5, got %v", got.Options["top_k"])
	}
	if _, ok := got.Options["bogus"]; ok {
		t.Error("expected unknown option to be dropped")
	}
}

// ============================================================================
// ModelInfo test
// ============================================================================

func TestOllamaClient_ModelInfo_ReturnsMetadata(t *testing.T) {
	t.Parallel()

	c := NewOllamaClient("http://localhost:11434", "nomic-embed-text")
	meta := c.ModelInfo()
	if meta.ID != "nomic-embed-text" {
		t.Errorf("expected model ID 'nomic-embed-text', got %q", meta.ID)
	}
	if meta.Provider != "ollama" {
		t.Errorf("expected provider 'ollama', got %q", meta.Provider)
	}
}

// compile-time assertions.
var (
	_ ChatModel = (*OllamaClient)(nil)
	_ Embedder  = (*OllamaClient)(nil)
)
