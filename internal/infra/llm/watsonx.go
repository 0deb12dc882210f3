// watsonx.ai adapter.
// Calls the text generation REST API with a bearer token obtained by
// exchanging the API key at IBM Cloud IAM. Endpoints used:
//   - POST {iam_url}: API key to access token
//   - POST {url}/ml/v1/text/generation?version=...: generation

package llm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

const (
	watsonxDefaultURL     = "https://us-south.ml.cloud.ibm.com"
	watsonxDefaultIAMURL  = "https://iam.cloud.ibm.com/identity/token"
	watsonxAPIVersion     = "2023-05-29"
	watsonxGenerationPath = "/ml/v1/text/generation"
)

// Keys specific to watsonx.
const (
	ParamWatsonxURL        = "url"
	ParamWatsonxAPIKey     = "apikey"
	ParamProjectID         = "project_id"
	ParamModelID           = "model_id"
	ParamIAMURL            = "iam_url"
	ParamDecodingMethod    = "decoding_method"
	ParamTopK              = "top_k"
	ParamRepetitionPenalty = "repetition_penalty"
	ParamRandomSeed        = "random_seed"
	ParamStopSequences     = "stop_sequences"
)

// watsonxGenerationParams lists the keys forwarded in the "parameters" object.
var watsonxGenerationParams = []string{
	ParamDecodingMethod, ParamMinNewTokens, ParamMaxNewTokens, ParamRandomSeed,
	ParamTemperature, ParamTopK, ParamTopP, ParamRepetitionPenalty, ParamStopSequences,
}

func init() {
	Register(TypeWatsonx, newWatsonxProvider)
}

type watsonxProvider struct {
	providerBase
}

func newWatsonxProvider(model string, params Params, cfg config.ProviderConfig, opts Options) Provider {
	return &watsonxProvider{providerBase: newProviderBase(TypeWatsonx, model, params, cfg, opts)}
}

// Load implements Provider. project_id and an API key are required.
func (p *watsonxProvider) Load() (ChatModel, error) {
	if err := p.resolve(watsonxDefaultURL); err != nil {
		return nil, err
	}
	var ovr config.ProviderOverride
	if o := p.cfg.Override(); o != nil {
		ovr = *o
	}
	projectID := firstNonEmpty(ovr.ProjectID, p.cfg.ProjectID)
	if projectID == "" {
		return nil, fmt.Errorf("%w: watsonx: project_id is required", ErrProviderConfiguration)
	}
	if p.credentials == "" {
		return nil, fmt.Errorf("%w: watsonx: credentials_path is required", ErrProviderConfiguration)
	}

	p.reconcile(Params{
		ParamWatsonxURL:        p.url,
		ParamWatsonxAPIKey:     p.credentials,
		ParamProjectID:         projectID,
		ParamModelID:           p.model,
		ParamIAMURL:            watsonxDefaultIAMURL,
		ParamDecodingMethod:    "sample",
		ParamMinNewTokens:      1,
		ParamMaxNewTokens:      512,
		ParamRandomSeed:        42,
		ParamTemperature:       0.05,
		ParamTopK:              10,
		ParamTopP:              0.95,
		ParamRepetitionPenalty: 1.03,
		ParamHTTPClient:        p.newHTTPClient(),
	}, []string{ParamStopSequences})

	return &watsonxChat{
		baseURL:    strings.TrimRight(p.params.Str(ParamWatsonxURL), "/"),
		iamURL:     p.params.Str(ParamIAMURL),
		apiKey:     p.params.Str(ParamWatsonxAPIKey),
		projectID:  p.params.Str(ParamProjectID),
		model:      p.params.Str(ParamModelID),
		params:     p.params,
		httpClient: p.params.HTTPClient(p.newHTTPClient()),
		logger:     p.logger(),
	}, nil
}

// ─── internal watsonx JSON types ─────────────────────────────────────────────

type watsonxGenerationRequest struct {
	Input      string         `json:"input"`
	ModelID    string         `json:"model_id"`
	ProjectID  string         `json:"project_id"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type watsonxGenerationResponse struct {
	Results []struct {
		GeneratedText       string `json:"generated_text"`
		GeneratedTokenCount int    `json:"generated_token_count"`
		InputTokenCount     int    `json:"input_token_count"`
		StopReason          string `json:"stop_reason"`
	} `json:"results"`
}

type iamTokenResponse struct {
	AccessToken string `json:"access_token"`
	Expiration  int64  `json:"expiration"`
}

// ─── ChatModel implementation ────────────────────────────────────────────────

type watsonxChat struct {
	baseURL    string
	iamURL     string
	apiKey     string
	projectID  string
	model      string
	params     Params
	httpClient *http.Client
	logger     *slog.Logger
}

// iamTokens caches IAM tokens per (IAM endpoint, API key) so adapters built
// for each query share one exchange.
var iamTokens = &iamTokenCache{entries: map[string]*iamToken{}}

type iamTokenCache struct {
	mu      sync.Mutex
	entries map[string]*iamToken
}

type iamToken struct {
	mu     sync.Mutex
	value  string
	expiry time.Time
}

// entry returns the cache slot for the pair. The key is hashed so the map
// never holds a raw credential.
func (c *iamTokenCache) entry(iamURL, apiKey string) *iamToken {
	sum := sha256.Sum256([]byte(iamURL + "\x00" + apiKey))
	key := hex.EncodeToString(sum[:])

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &iamToken{}
		c.entries[key] = e
	}
	return e
}

// Invoke implements ChatModel. The messages are flattened into one prompt.
func (c *watsonxChat) Invoke(ctx context.Context, messages []Message) (*ChatResponse, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	parameters := map[string]any{}
	for _, k := range watsonxGenerationParams {
		if v, ok := c.params[k]; ok && v != nil {
			parameters[k] = v
		}
	}
	body, err := json.Marshal(watsonxGenerationRequest{
		Input:      RenderPrompt(messages),
		ModelID:    c.model,
		ProjectID:  c.projectID,
		Parameters: parameters,
	})
	if err != nil {
		return nil, newInvocationError(TypeWatsonx, c.model, err)
	}

	endpoint := c.baseURL + watsonxGenerationPath + "?version=" + watsonxAPIVersion
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, newInvocationError(TypeWatsonx, c.model, err)
	}
	req.Header.Set(headerContentType, mimeJSON)
	req.Header.Set("Authorization", "Bearer "+token)

	var out watsonxGenerationResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, newInvocationError(TypeWatsonx, c.model, fmt.Errorf("response has no results"))
	}
	r := out.Results[0]
	return &ChatResponse{
		Content:      r.GeneratedText,
		StopReason:   r.StopReason,
		InputTokens:  r.InputTokenCount,
		OutputTokens: r.GeneratedTokenCount,
	}, nil
}

// ModelInfo implements ChatModel.
func (c *watsonxChat) ModelInfo() ModelMeta {
	return ModelMeta{ID: c.model, Provider: TypeWatsonx}
}

// accessToken returns a cached IAM token, refreshing it a minute before expiry.
func (c *watsonxChat) accessToken(ctx context.Context) (string, error) {
	e := iamTokens.entry(c.iamURL, c.apiKey)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.value != "" && time.Now().Before(e.expiry.Add(-time.Minute)) {
		return e.value, nil
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ibm:params:oauth:grant-type:apikey")
	form.Set("apikey", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.iamURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", newInvocationError(TypeWatsonx, c.model, err)
	}
	req.Header.Set(headerContentType, "application/x-www-form-urlencoded")
	req.Header.Set("Accept", mimeJSON)

	var tok iamTokenResponse
	if err := c.do(req, &tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", newInvocationError(TypeWatsonx, c.model, fmt.Errorf("iam: empty access token"))
	}
	e.value = tok.AccessToken
	e.expiry = time.Unix(tok.Expiration, 0)
	return e.value, nil
}

// do executes req and decodes a 2xx JSON body into out.
func (c *watsonxChat) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newInvocationError(TypeWatsonx, c.model, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &InvocationError{
			Provider:   TypeWatsonx,
			Model:      c.model,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, strings.TrimSpace(string(snippet))),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newInvocationError(TypeWatsonx, c.model, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// RenderPrompt flattens chat messages into a single role-tagged prompt for
// completion-style backends.
func RenderPrompt(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString("<|")
		b.WriteString(m.Role)
		b.WriteString("|>\n")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("<|" + RoleAssistant + "|>\n")
	return b.String()
}
