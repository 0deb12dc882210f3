// Package llm holds the LLM provider adapters. A Provider turns one
// configured backend plus caller parameters into a ready-to-invoke ChatModel.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

// ChatModel is a loaded model handle.
type ChatModel interface {
	// Invoke performs a non-streaming chat completion.
	Invoke(ctx context.Context, messages []Message) (*ChatResponse, error)

	// ModelInfo returns static metadata about the provider/model.
	ModelInfo() ModelMeta
}

// Embedder computes dense vectors for a batch of texts.
type Embedder interface {
	Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error)
}

// Provider adapts one backend type.
type Provider interface {
	// Load resolves credentials, reconciles parameters and builds the client.
	Load() (ChatModel, error)

	// DefaultParams is the backend baseline computed by Load.
	DefaultParams() Params

	// Params is the reconciled set actually used by the client, computed by Load.
	Params() Params
}

// Options carries process-wide settings into every adapter.
type Options struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// defaultTimeout bounds every remote call when Options.Timeout is unset.
const defaultTimeout = 60 * time.Second

// providerBase holds what every adapter needs: the config block, the caller
// params and the values resolved during Load.
type providerBase struct {
	providerType string
	model        string
	caller       Params
	cfg          config.ProviderConfig
	opts         Options

	url           string
	credentials   string
	defaultParams Params
	params        Params
}

func newProviderBase(providerType, model string, params Params, cfg config.ProviderConfig, opts Options) providerBase {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return providerBase{
		providerType: providerType,
		model:        model,
		caller:       params,
		cfg:          cfg,
		opts:         opts,
	}
}

func (b *providerBase) DefaultParams() Params { return b.defaultParams }
func (b *providerBase) Params() Params        { return b.params }

// URL is the endpoint chosen by resolve.
func (b *providerBase) URL() string { return b.url }

// resolve picks the endpoint and reads the credential.
// URL precedence: override block, provider, model, fallback.
// Credential path precedence: override block, model, provider.
func (b *providerBase) resolve(fallbackURL string) error {
	if b.model == "" {
		return fmt.Errorf("%w: %s: model name is required", ErrProviderConfiguration, b.providerType)
	}
	modelCfg, _ := b.cfg.Model(b.model)
	var ovr config.ProviderOverride
	if o := b.cfg.Override(); o != nil {
		ovr = *o
	}

	b.url = firstNonEmpty(ovr.URL, b.cfg.URL, modelCfg.URL, fallbackURL)
	cred, err := ResolveCredential(firstNonEmpty(ovr.CredentialsPath, modelCfg.CredentialsPath, b.cfg.CredentialsPath))
	if err != nil {
		return err
	}
	b.credentials = cred
	return nil
}

// reconcile stores defaults and the reconciled params. Model-level
// parameters from the config sit beneath the caller's own.
func (b *providerBase) reconcile(defaults Params, allowed []string) {
	caller := Params{}
	if modelCfg, ok := b.cfg.Model(b.model); ok {
		for k, v := range modelCfg.Parameters {
			caller[k] = v
		}
	}
	for k, v := range b.caller {
		caller[k] = v
	}
	b.defaultParams = defaults
	b.params = Reconcile(defaults, caller, allowed)
}

// credentialParam returns the credential, or nil when none was configured.
func (b *providerBase) credentialParam() any {
	if b.credentials == "" {
		return nil
	}
	return b.credentials
}

func (b *providerBase) newHTTPClient() *http.Client {
	return &http.Client{Timeout: b.opts.Timeout}
}

func (b *providerBase) logger() *slog.Logger {
	return b.opts.Logger.With(
		slog.String("component", "llm"),
		slog.String("provider", b.providerType),
		slog.String("model", b.model),
	)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
