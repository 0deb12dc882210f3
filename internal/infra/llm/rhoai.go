// vLLM adapters for OpenShift AI and RHEL AI.
// Both speak the OpenAI chat API but reject max_completion_tokens, so the
// client transport renames it to max_tokens on every outgoing request.

package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

func init() {
	Register(TypeRHOAIVLLM, func(model string, params Params, cfg config.ProviderConfig, opts Options) Provider {
		return &vllmProvider{providerBase: newProviderBase(TypeRHOAIVLLM, model, params, cfg, opts)}
	})
	Register(TypeRHELAIVLLM, func(model string, params Params, cfg config.ProviderConfig, opts Options) Provider {
		return &vllmProvider{providerBase: newProviderBase(TypeRHELAIVLLM, model, params, cfg, opts)}
	})
}

type vllmProvider struct {
	providerBase
}

// Load implements Provider. A vLLM endpoint has no public default, so url is required.
func (p *vllmProvider) Load() (ChatModel, error) {
	if err := p.resolve(""); err != nil {
		return nil, err
	}
	if p.url == "" {
		return nil, fmt.Errorf("%w: %s: url is required", ErrProviderConfiguration, p.providerType)
	}
	p.reconcile(Params{
		ParamBaseURL:          p.url,
		ParamOpenAIAPIKey:     p.credentialParam(),
		ParamModel:            p.model,
		ParamMaxTokens:        512,
		ParamTemperature:      0.01,
		ParamTopP:             0.95,
		ParamFrequencyPenalty: 1.03,
		ParamVerbose:          false,
		ParamHTTPClient:       p.newHTTPClient(),
	}, nil)

	cc := openai.DefaultConfig(p.params.Str(ParamOpenAIAPIKey))
	if base := p.params.Str(ParamBaseURL); base != "" {
		cc.BaseURL = base
	}
	cc.HTTPClient = WithPayloadRewrite(p.params.HTTPClient(p.newHTTPClient()))
	return newOpenAIChat(p.providerType, cc, p.params, p.logger()), nil
}

// ─── payload rewrite ─────────────────────────────────────────────────────────

// RewriteMaxTokens renames max_completion_tokens to max_tokens in place.
// It reports whether the payload changed.
func RewriteMaxTokens(payload map[string]any) bool {
	v, ok := payload["max_completion_tokens"]
	if !ok {
		return false
	}
	delete(payload, "max_completion_tokens")
	payload["max_tokens"] = v
	return true
}

// WithPayloadRewrite returns a copy of c whose transport applies RewriteMaxTokens
// to every JSON request body.
func WithPayloadRewrite(c *http.Client) *http.Client {
	out := *c
	out.Transport = &PayloadRewriter{Next: c.Transport}
	return &out
}

// PayloadRewriter is an http.RoundTripper applying RewriteMaxTokens per request.
type PayloadRewriter struct {
	Next http.RoundTripper // nil means http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *PayloadRewriter) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}
	if req.Body == nil || req.Body == http.NoBody ||
		!strings.HasPrefix(req.Header.Get(headerContentType), mimeJSON) {
		return next.RoundTrip(req)
	}

	raw, err := io.ReadAll(req.Body)
	req.Body.Close() //nolint:errcheck
	if err != nil {
		return nil, fmt.Errorf("payload rewrite: read body: %w", err)
	}

	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&payload); err == nil && RewriteMaxTokens(payload) {
		if rewritten, mErr := json.Marshal(payload); mErr == nil {
			raw = rewritten
		}
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(raw))
	out.ContentLength = int64(len(raw))
	out.Header.Set("Content-Length", strconv.Itoa(len(raw)))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	return next.RoundTrip(out)
}
