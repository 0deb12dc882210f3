package llm

import (
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

const azureDefaultAPIVersion = "2024-02-15-preview"

// Keys specific to Azure OpenAI.
const (
	ParamAzureEndpoint  = "azure_endpoint"
	ParamAPIKey         = "api_key"
	ParamAPIVersion     = "api_version"
	ParamDeploymentName = "deployment_name"
)

func init() {
	Register(TypeAzureOpenAI, newAzureProvider)
}

type azureProvider struct {
	providerBase
}

func newAzureProvider(model string, params Params, cfg config.ProviderConfig, opts Options) Provider {
	return &azureProvider{providerBase: newProviderBase(TypeAzureOpenAI, model, params, cfg, opts)}
}

// Load implements Provider. The endpoint and deployment name are required.
func (p *azureProvider) Load() (ChatModel, error) {
	if err := p.resolve(""); err != nil {
		return nil, err
	}
	if p.url == "" {
		return nil, fmt.Errorf("%w: azure_openai: url is required", ErrProviderConfiguration)
	}

	var ovr config.ProviderOverride
	if o := p.cfg.Override(); o != nil {
		ovr = *o
	}
	deployment := firstNonEmpty(ovr.DeploymentName, p.cfg.DeploymentName)
	if deployment == "" {
		return nil, fmt.Errorf("%w: azure_openai: deployment_name is required", ErrProviderConfiguration)
	}

	p.reconcile(Params{
		ParamAzureEndpoint:  p.url,
		ParamAPIKey:         p.credentialParam(),
		ParamAPIVersion:     firstNonEmpty(ovr.APIVersion, p.cfg.APIVersion, azureDefaultAPIVersion),
		ParamDeploymentName: deployment,
		ParamModel:          p.model,
		ParamMaxTokens:      512,
		ParamTemperature:    0.01,
		ParamVerbose:        false,
		ParamHTTPClient:     p.newHTTPClient(),
	}, nil)

	cc := openai.DefaultAzureConfig(p.params.Str(ParamAPIKey), p.params.Str(ParamAzureEndpoint))
	if v := p.params.Str(ParamAPIVersion); v != "" {
		cc.APIVersion = v
	}
	dep := p.params.Str(ParamDeploymentName)
	cc.AzureModelMapperFunc = func(string) string { return dep }
	cc.HTTPClient = p.params.HTTPClient(p.newHTTPClient())
	return newOpenAIChat(TypeAzureOpenAI, cc, p.params, p.logger()), nil
}
