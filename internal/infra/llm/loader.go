package llm

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

// Loader resolves provider and model names against the configuration.
type Loader struct {
	cfg  config.Config
	opts Options
}

// NewLoader creates a Loader. Remote calls are bounded by ols_config.llm_timeout_seconds.
func NewLoader(cfg config.Config, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		cfg: cfg,
		opts: Options{
			Timeout: time.Duration(cfg.OLSConfig.LLMTimeoutSeconds) * time.Second,
			Logger:  logger,
		},
	}
}

// Provider builds the unloaded adapter for (providerName, model).
func (l *Loader) Provider(providerName, model string, params Params) (Provider, error) {
	pc, ok := l.cfg.Provider(providerName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerName)
	}
	if _, ok := pc.Model(model); !ok {
		return nil, fmt.Errorf("%w: %q is not served by provider %q", ErrUnknownModel, model, providerName)
	}
	factory, err := Lookup(pc.Type)
	if err != nil {
		return nil, err
	}
	return factory(model, params, pc, l.opts), nil
}

// Load builds and loads the adapter for (providerName, model).
func (l *Loader) Load(providerName, model string, params Params) (ChatModel, error) {
	p, err := l.Provider(providerName, model, params)
	if err != nil {
		return nil, err
	}
	return p.Load()
}

// Default returns the configured default provider and model names.
func (l *Loader) Default() (provider, model string) {
	return l.cfg.OLSConfig.DefaultProvider, l.cfg.OLSConfig.DefaultModel
}
