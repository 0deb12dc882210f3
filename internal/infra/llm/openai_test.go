package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

// openAIFixture builds the provider config used across the OpenAI tests:
// provider and model both point at secret/apitoken ("secret_key"), and
// secret2/apitoken holds "secret_key_2" for override tests.
func openAIFixture(t *testing.T) (cfg config.ProviderConfig, secretDir, secret2Dir string) {
	t.Helper()
	root := t.TempDir()
	secretDir = filepath.Join(root, "secret")
	secret2Dir = filepath.Join(root, "secret2")
	token := writeSecret(t, secretDir, CredentialFileName, "secret_key")
	writeSecret(t, secret2Dir, CredentialFileName, "secret_key_2")

	cfg = config.ProviderConfig{
		Name:            "some_provider",
		Type:            TypeOpenAI,
		URL:             "test_url",
		CredentialsPath: token,
		Models: []config.ModelConfig{{
			Name:            "uber-model",
			URL:             "http://test_model_url/",
			CredentialsPath: token,
		}},
	}
	return cfg, secretDir, secret2Dir
}

func loadOpenAI(t *testing.T, cfg config.ProviderConfig, params Params) (*openAIProvider, ChatModel) {
	t.Helper()
	p := newOpenAIProvider("uber-model", params, cfg, Options{}).(*openAIProvider)
	m, err := p.Load()
	require.NoError(t, err)
	return p, m
}

// ============================================================================
// Parameter reconciliation
// ============================================================================

func TestOpenAI_BasicInterface(t *testing.T) {
	t.Parallel()

	cfg, _, _ := openAIFixture(t)
	p, m := loadOpenAI(t, cfg, Params{})

	require.NotNil(t, m)
	for _, k := range []string{ParamBaseURL, ParamModel, ParamMaxTokens, ParamHTTPClient} {
		assert.Contains(t, p.DefaultParams(), k)
	}
	assert.IsType(t, &http.Client{}, p.DefaultParams()[ParamHTTPClient])
	assert.Equal(t, ModelMeta{ID: "uber-model", Provider: TypeOpenAI}, m.ModelInfo())
}

func TestOpenAI_ParamsHandling(t *testing.T) {
	t.Parallel()

	cfg, _, _ := openAIFixture(t)
	p, _ := loadOpenAI(t, cfg, Params{
		"unknown_parameter": "foo",
		ParamMinNewTokens:   1,
		ParamMaxNewTokens:   10,
		ParamTemperature:    0.3,
		ParamVerbose:        true,
	})

	params := p.Params()
	assert.Equal(t, 0.3, params[ParamTemperature])
	assert.Equal(t, true, params[ParamVerbose])
	assert.NotContains(t, params, ParamMinNewTokens)
	assert.NotContains(t, params, ParamMaxNewTokens)
	assert.NotContains(t, params, "unknown_parameter")

	assert.Equal(t, "test_url", p.URL())
	assert.Equal(t, "secret_key", p.DefaultParams()[ParamOpenAIAPIKey])
	assert.Equal(t, "test_url", p.DefaultParams()[ParamBaseURL])
}

func TestOpenAI_CredentialsInDirectory(t *testing.T) {
	t.Parallel()

	cfg, secretDir, _ := openAIFixture(t)
	cfg.CredentialsPath = secretDir
	cfg.Models[0].CredentialsPath = ""
	p, _ := loadOpenAI(t, cfg, Params{})

	assert.Equal(t, "secret_key", p.DefaultParams()[ParamOpenAIAPIKey])
}

func TestOpenAI_ProviderSpecificBlockTakesPrecedence(t *testing.T) {
	t.Parallel()

	cfg, _, secret2Dir := openAIFixture(t)
	cfg.OpenAIConfig = &config.ProviderOverride{
		URL:             "http://openai.com/",
		CredentialsPath: filepath.Join(secret2Dir, CredentialFileName),
	}
	p, _ := loadOpenAI(t, cfg, Params{})

	assert.Equal(t, "http://openai.com/", p.URL())
	assert.Equal(t, "secret_key_2", p.DefaultParams()[ParamOpenAIAPIKey])
	assert.Equal(t, "http://openai.com/", p.DefaultParams()[ParamBaseURL])
}

func TestOpenAI_OtherTypeBlockIgnored(t *testing.T) {
	t.Parallel()

	cfg, _, _ := openAIFixture(t)
	cfg.WatsonxConfig = &config.ProviderOverride{URL: "http://watsonx"}
	p, _ := loadOpenAI(t, cfg, Params{})

	assert.Equal(t, "test_url", p.URL())
}

func TestOpenAI_NoneParamsHandling(t *testing.T) {
	t.Parallel()

	cfg, _, _ := openAIFixture(t)
	p, _ := loadOpenAI(t, cfg, Params{
		"unknown_parameter": nil,
		ParamMinNewTokens:   nil,
		ParamMaxNewTokens:   nil,
		ParamOrganization:   nil,
		ParamCache:          nil,
	})

	assert.Equal(t, "secret_key", p.DefaultParams()[ParamOpenAIAPIKey])
	assert.Equal(t, "test_url", p.DefaultParams()[ParamBaseURL])
	assert.NotContains(t, p.Params(), "unknown_parameter")
	assert.Contains(t, p.Params(), ParamOrganization)
}

func TestOpenAI_NilReplacesDefault(t *testing.T) {
	t.Parallel()

	cfg, _, _ := openAIFixture(t)
	p, _ := loadOpenAI(t, cfg, Params{})
	assert.NotNil(t, p.Params()[ParamBaseURL])

	p, _ = loadOpenAI(t, cfg, Params{ParamBaseURL: nil})
	assert.Contains(t, p.Params(), ParamBaseURL)
	assert.Nil(t, p.Params()[ParamBaseURL])
}

func TestOpenAI_MissingCredentialFailsBeforeNetwork(t *testing.T) {
	t.Parallel()

	cfg, _, _ := openAIFixture(t)
	emptyDir := t.TempDir()
	cfg.CredentialsPath = emptyDir
	cfg.Models[0].CredentialsPath = ""

	p := newOpenAIProvider("uber-model", nil, cfg, Options{})
	_, err := p.Load()
	require.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestOpenAI_MissingModelName(t *testing.T) {
	t.Parallel()

	cfg, _, _ := openAIFixture(t)
	_, err := newOpenAIProvider("", nil, cfg, Options{}).Load()
	require.ErrorIs(t, err, ErrProviderConfiguration)
}

// ============================================================================
// Invoke
// ============================================================================

// chatCompletionServer answers /v1/chat/completions and records every request body.
func chatCompletionServer(t *testing.T, bodies *[]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		*bodies = append(*bodies, body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  body["model"],
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "Use ansible-galaxy."},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAI_Invoke_Success(t *testing.T) {
	t.Parallel()

	var bodies []map[string]any
	srv := chatCompletionServer(t, &bodies)
	cfg, _, _ := openAIFixture(t)
	cfg.URL = srv.URL + "/v1"

	_, m := loadOpenAI(t, cfg, Params{ParamTemperature: 0.3})
	resp, err := m.Invoke(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "how do I install a collection?"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Use ansible-galaxy.", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 3, resp.OutputTokens)

	require.Len(t, bodies, 1)
	assert.Equal(t, "uber-model", bodies[0]["model"])
	assert.EqualValues(t, 512, bodies[0]["max_completion_tokens"])
	assert.InDelta(t, 0.3, bodies[0]["temperature"], 1e-6)
}

func TestOpenAI_Invoke_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	cfg, _, _ := openAIFixture(t)
	cfg.URL = srv.URL + "/v1"
	_, m := loadOpenAI(t, cfg, nil)

	_, err := m.Invoke(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.ErrorIs(t, err, ErrLLMInvocation)

	var inv *InvocationError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, http.StatusServiceUnavailable, inv.StatusCode)
	assert.True(t, IsRetryable(err))
}
