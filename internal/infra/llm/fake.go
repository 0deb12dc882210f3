package llm

import (
	"context"
	"strings"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

// FakeDefaultResponse is returned when fake_provider_config.response is empty.
const FakeDefaultResponse = "This is a preconfigured fake response."

// ParamResponse holds the canned answer of the fake provider.
const ParamResponse = "response"

func init() {
	Register(TypeFake, newFakeProvider)
}

// fakeProvider never leaves the process. It is meant for local development.
type fakeProvider struct {
	providerBase
}

func newFakeProvider(model string, params Params, cfg config.ProviderConfig, opts Options) Provider {
	return &fakeProvider{providerBase: newProviderBase(TypeFake, model, params, cfg, opts)}
}

// Load implements Provider.
func (p *fakeProvider) Load() (ChatModel, error) {
	if err := p.resolve(""); err != nil {
		return nil, err
	}
	response := FakeDefaultResponse
	if p.cfg.FakeConfig != nil && p.cfg.FakeConfig.Response != "" {
		response = p.cfg.FakeConfig.Response
	}
	p.reconcile(Params{
		ParamModel:    p.model,
		ParamResponse: response,
	}, nil)
	return &FakeChat{Model: p.model, Response: p.params.Str(ParamResponse)}, nil
}

// FakeChat answers every call with Response and counts words as tokens.
type FakeChat struct {
	Model    string
	Response string
}

// Invoke implements ChatModel.
func (f *FakeChat) Invoke(_ context.Context, messages []Message) (*ChatResponse, error) {
	sent := 0
	for _, m := range messages {
		sent += len(strings.Fields(m.Content))
	}
	return &ChatResponse{
		Content:      f.Response,
		StopReason:   "stop",
		InputTokens:  sent,
		OutputTokens: len(strings.Fields(f.Response)),
	}, nil
}

// ModelInfo implements ChatModel.
func (f *FakeChat) ModelInfo() ModelMeta {
	return ModelMeta{ID: f.Model, Provider: TypeFake}
}
