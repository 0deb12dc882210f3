// No t.Parallel(): env vars are process-global.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalYAML = `
llm_providers:
  - name: my_openai
    type: openai
    url: https://api.openai.com/v1
    credentials_path: secrets/openai
    openai_config:
      url: http://openai.com
      credentials_path: secrets/openai2
    models:
      - name: gpt-4o-mini
ols_config:
  default_provider: my_openai
  default_model: gpt-4o-mini
  reference_content:
    product_docs_index_path: ./vector_db
    product_docs_index_id: product-index
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "olsconfig.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		envKeyServiceHost, envKeyServicePort, envKeyLogLevel,
		envKeyDefaultProvider, envKeyDefaultModel, envKeyOTLPEndpoint, envKeyDisableAuth,
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Service.Port)
	}
	if cfg.OLSConfig.QueryValidation.Method != ValidationLLM {
		t.Errorf("expected validation method llm, got %q", cfg.OLSConfig.QueryValidation.Method)
	}
	if cfg.OLSConfig.ConversationCache.Type != CacheMemory {
		t.Errorf("expected memory cache, got %q", cfg.OLSConfig.ConversationCache.Type)
	}
	rc := cfg.OLSConfig.ReferenceContent
	if rc == nil {
		t.Fatal("expected reference_content to be parsed")
	}
	if rc.VectorStoreType != VectorStoreFaiss {
		t.Errorf("expected faiss vector store by default, got %q", rc.VectorStoreType)
	}
	if rc.TopK != 4 {
		t.Errorf("expected top_k 4, got %d", rc.TopK)
	}
	if rc.Embeddings.Type != EmbeddingsOllama {
		t.Errorf("expected ollama embeddings by default, got %q", rc.Embeddings.Type)
	}
	if cfg.OLSConfig.LLMTimeoutSeconds != 60 {
		t.Errorf("expected llm timeout 60, got %d", cfg.OLSConfig.LLMTimeoutSeconds)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(envKeyServicePort, "9090")
	t.Setenv(envKeyLogLevel, "debug")
	t.Setenv(envKeyDisableAuth, "true")

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Port != 9090 {
		t.Errorf("expected port override 9090, got %d", cfg.Service.Port)
	}
	if cfg.OLSConfig.Logging.AppLogLevel != "debug" {
		t.Errorf("expected log level debug, got %q", cfg.OLSConfig.Logging.AppLogLevel)
	}
	if !cfg.OLSConfig.Authentication.Disabled {
		t.Error("expected auth disabled by env")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestLoad_UnknownDefaultModel(t *testing.T) {
	clearEnv(t)
	body := strings.Replace(minimalYAML, "default_model: gpt-4o-mini", "default_model: nope", 1)
	_, err := Load(writeConfig(t, body))
	if err == nil || !strings.Contains(err.Error(), "default_model") {
		t.Fatalf("expected default_model error, got %v", err)
	}
}

func TestValidate_ClassifierModelMustBeConfigured(t *testing.T) {
	clearEnv(t)
	base, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cases := []struct {
		name, provider, model, wantErr string
	}{
		{name: "configured pair", provider: "my_openai", model: "gpt-4o-mini"},
		{name: "provider only", provider: "my_openai", wantErr: "set together"},
		{name: "unknown provider", provider: "my_openia", model: "gpt-4o-mini", wantErr: "query_validation.provider"},
		{name: "unknown model", provider: "my_openai", model: "gpt-4o-mni", wantErr: "query_validation.model"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			cfg.OLSConfig.QueryValidation.Provider = tc.provider
			cfg.OLSConfig.QueryValidation.Model = tc.model
			err := Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() error = %v, want it to mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_PostgresRequiresBlock(t *testing.T) {
	clearEnv(t)
	body := minimalYAML + "    vector_store_type: postgres\n"
	_, err := Load(writeConfig(t, body))
	if err == nil || !strings.Contains(err.Error(), "postgres must be set") {
		t.Fatalf("expected postgres error, got %v", err)
	}
}

func TestProviderConfig_Override(t *testing.T) {
	t.Parallel()
	p := ProviderConfig{
		Type:          "openai",
		OpenAIConfig:  &ProviderOverride{URL: "http://openai.com"},
		WatsonxConfig: &ProviderOverride{URL: "http://watsonx"},
	}
	if got := p.Override(); got == nil || got.URL != "http://openai.com" {
		t.Fatalf("expected openai override, got %+v", got)
	}
	p.Type = "azure_openai"
	if got := p.Override(); got != nil {
		t.Fatalf("expected no override for azure_openai, got %+v", got)
	}
}

func TestPostgresConfig_ConnString(t *testing.T) {
	t.Parallel()
	pg := PostgresConfig{Host: "db", Port: 5432, User: "postgres", Password: "secret", DBName: "ols"}
	got, err := pg.ConnString()
	if err != nil {
		t.Fatalf("ConnString() error = %v", err)
	}
	if got != "postgresql://postgres:secret@db:5432/ols" {
		t.Errorf("unexpected conn string %q", got)
	}
}

func TestPostgresConfig_ConnStringPasswordFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "pw")
	if err := os.WriteFile(path, []byte("from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	pg := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "inline", PasswordPath: path, DBName: "d", SSLMode: "disable"}
	got, err := pg.ConnString()
	if err != nil {
		t.Fatalf("ConnString() error = %v", err)
	}
	if got != "postgresql://u:from-file@db:5432/d?sslmode=disable" {
		t.Errorf("unexpected conn string %q", got)
	}
}

func TestEnvOr_Present(t *testing.T) {
	t.Setenv("TEST_ENVOR_KEY", "custom-value")
	got := envOr("TEST_ENVOR_KEY", "fallback")
	if got != "custom-value" {
		t.Errorf("expected 'custom-value', got %q", got)
	}
}

func TestEnvOr_Absent(t *testing.T) {
	t.Setenv("TEST_ENVOR_MISSING", "")
	got := envOr("TEST_ENVOR_MISSING", "fallback")
	if got != "fallback" {
		t.Errorf("expected 'fallback', got %q", got)
	}
}

func TestPath(t *testing.T) {
	t.Setenv(envKeyConfigFile, "")
	if Path() != DefaultConfigPath {
		t.Errorf("expected default path, got %q", Path())
	}
	t.Setenv(envKeyConfigFile, "/etc/ols/config.yaml")
	if Path() != "/etc/ols/config.yaml" {
		t.Errorf("expected env path, got %q", Path())
	}
}
