package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

func TestAzure_InvokeUsesDeployment(t *testing.T) {
	t.Parallel()

	var gotPath, gotVersion, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotVersion = r.URL.Query().Get("api-version")
		gotKey = r.Header.Get("api-key")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": "ok"},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	key := writeSecret(t, t.TempDir(), CredentialFileName, "azure-key")
	p := newAzureProvider("gpt-4o", nil, config.ProviderConfig{
		Name:            "azure",
		Type:            TypeAzureOpenAI,
		URL:             srv.URL,
		CredentialsPath: key,
		AzureOpenAIConfig: &config.ProviderOverride{
			DeploymentName: "my-deployment",
		},
		Models: []config.ModelConfig{{Name: "gpt-4o"}},
	}, Options{})

	m, err := p.Load()
	require.NoError(t, err)
	resp, err := m.Invoke(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)

	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "/openai/deployments/my-deployment/chat/completions", gotPath)
	assert.Equal(t, azureDefaultAPIVersion, gotVersion)
	assert.Equal(t, "azure-key", gotKey)
	assert.Equal(t, "my-deployment", p.Params()[ParamDeploymentName])
}

func TestAzure_RequiresDeployment(t *testing.T) {
	t.Parallel()

	_, err := newAzureProvider("gpt-4o", nil, config.ProviderConfig{
		Name:   "azure",
		Type:   TypeAzureOpenAI,
		URL:    "https://example.openai.azure.com",
		Models: []config.ModelConfig{{Name: "gpt-4o"}},
	}, Options{}).Load()
	require.ErrorIs(t, err, ErrProviderConfiguration)
}
