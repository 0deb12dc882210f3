// OpenAI adapter.
// openAIChat is shared by every OpenAI-compatible backend (openai, azure_openai,
// rhoai_vllm, rhelai_vllm); the adapters differ only in how they build the client.

package llm

import (
	"context"
	"errors"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

const openAIDefaultURL = "https://api.openai.com/v1"

// Keys specific to OpenAI-compatible backends.
const (
	ParamOpenAIAPIKey = "openai_api_key"
	ParamOrganization = "organization"
	ParamCache        = "cache"
)

func init() {
	Register(TypeOpenAI, newOpenAIProvider)
}

type openAIProvider struct {
	providerBase
}

func newOpenAIProvider(model string, params Params, cfg config.ProviderConfig, opts Options) Provider {
	return &openAIProvider{providerBase: newProviderBase(TypeOpenAI, model, params, cfg, opts)}
}

// Load implements Provider.
func (p *openAIProvider) Load() (ChatModel, error) {
	if err := p.resolve(openAIDefaultURL); err != nil {
		return nil, err
	}
	p.reconcile(Params{
		ParamBaseURL:          p.url,
		ParamOpenAIAPIKey:     p.credentialParam(),
		ParamModel:            p.model,
		ParamMaxTokens:        512,
		ParamOrganization:     nil,
		ParamCache:            nil,
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
	cc.OrgID = p.params.Str(ParamOrganization)
	cc.HTTPClient = p.params.HTTPClient(p.newHTTPClient())
	return newOpenAIChat(TypeOpenAI, cc, p.params, p.logger()), nil
}

// ─── shared chat client ──────────────────────────────────────────────────────

type openAIChat struct {
	provider string
	model    string
	client   *openai.Client
	params   Params
	logger   *slog.Logger
}

func newOpenAIChat(provider string, cc openai.ClientConfig, params Params, logger *slog.Logger) *openAIChat {
	return &openAIChat{
		provider: provider,
		model:    params.Str(ParamModel),
		client:   openai.NewClientWithConfig(cc),
		params:   params,
		logger:   logger,
	}
}

// Invoke implements ChatModel.
func (c *openAIChat) Invoke(ctx context.Context, messages []Message) (*ChatResponse, error) {
	req := c.buildRequest(messages)
	if c.params.Bool(ParamVerbose) {
		c.logger.DebugContext(ctx, "chat completion request",
			slog.Int("messages", len(req.Messages)),
			slog.Int("max_completion_tokens", req.MaxCompletionTokens))
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, newInvocationError(c.provider, c.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, newInvocationError(c.provider, c.model, errors.New("response has no choices"))
	}
	choice := resp.Choices[0]
	return &ChatResponse{
		Content:      choice.Message.Content,
		StopReason:   string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// buildRequest maps the reconciled params onto the request body.
func (c *openAIChat) buildRequest(messages []Message) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	req := openai.ChatCompletionRequest{Model: c.model, Messages: msgs}
	if v, ok := c.params.Int(ParamMaxTokens); ok {
		req.MaxCompletionTokens = v
	}
	if v, ok := c.params.Float(ParamTemperature); ok {
		req.Temperature = float32(v)
	}
	if v, ok := c.params.Float(ParamTopP); ok {
		req.TopP = float32(v)
	}
	if v, ok := c.params.Float(ParamFrequencyPenalty); ok {
		req.FrequencyPenalty = float32(v)
	}
	return req
}

// ModelInfo implements ChatModel.
func (c *openAIChat) ModelInfo() ModelMeta {
	return ModelMeta{ID: c.model, Provider: c.provider}
}
