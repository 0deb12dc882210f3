package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/nats-io/nats.go"

	"github.com/matiasleandrokruk/lightspeed/internal/api"
	"github.com/matiasleandrokruk/lightspeed/internal/api/middleware"
	"github.com/matiasleandrokruk/lightspeed/internal/domain/assistant"
	"github.com/matiasleandrokruk/lightspeed/internal/domain/knowledge"
	"github.com/matiasleandrokruk/lightspeed/internal/domain/policy"
	"github.com/matiasleandrokruk/lightspeed/internal/domain/transcripts"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/cache"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/eventbus"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/llm"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/logging"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/metrics"
	"github.com/matiasleandrokruk/lightspeed/internal/server"
	pkgauth "github.com/matiasleandrokruk/lightspeed/pkg/auth"
)

// loadConfig reads the configuration and installs the process logger.
func loadConfig(path string) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	logger := logging.SetDefault(logging.Options{
		Level:  cfg.OLSConfig.Logging.AppLogLevel,
		Format: cfg.OLSConfig.Logging.Format,
		Writer: os.Stderr,
	})
	return cfg, logger, nil
}

// app is the assembled service. Fields are set in dependency order by newApp;
// closers release them in reverse.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	models  *llm.Loader
	index   *knowledge.IndexLoader
	service *assistant.Service

	closers []server.Closer
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
		}
	}()
	ols := cfg.OLSConfig

	shutdownTracing, err := metrics.SetupTracing(ctx, ols.Tracing, logger)
	if err != nil {
		return a, err
	}
	a.onClose(server.Closer(shutdownTracing))

	if a.metrics, err = metrics.New(ols.Tracing.ServiceName); err != nil {
		return a, err
	}
	a.onClose(a.metrics.Shutdown)
	a.metrics.SetProviderModels(ctx, providerModels(cfg),
		metrics.ProviderModel{Provider: ols.DefaultProvider, Model: ols.DefaultModel})

	a.models = llm.NewLoader(cfg, logger)
	validator, err := policy.NewValidator(ols.QueryValidation, a.models, logger, policy.WithCallReporter(a.metrics))
	if err != nil {
		return a, err
	}
	redactor, err := policy.NewRedactor(ols.QueryFilters)
	if err != nil {
		return a, err
	}

	a.index = knowledge.NewIndexLoader(ols.ReferenceContent, logger)
	a.onClose(func(context.Context) error { return a.index.Close() })

	history, err := cache.New(ctx, ols.ConversationCache)
	if err != nil {
		return a, err
	}
	a.onClose(func(context.Context) error { return history.Close() })

	bus := eventbus.New(eventbus.WithBufferSize(ols.Transcripts.QueueSize))
	a.onClose(func(context.Context) error { bus.Close(); return nil })
	if err := a.startTranscripts(bus); err != nil {
		return a, err
	}

	a.service, err = assistant.NewService(cfg, assistant.Deps{
		Models:    a.models,
		Validator: validator,
		Index:     a.index,
		History:   history,
		Redactor:  redactor,
		Bus:       bus,
		Hooks:     a.metrics,
		Logger:    logger,
	})
	return a, err
}

// startTranscripts subscribes the recorder before any query can publish.
func (a *app) startTranscripts(bus *eventbus.Bus) error {
	tc := a.cfg.OLSConfig.Transcripts
	if tc.TranscriptsDisabled {
		a.logger.Info("transcripts collection is disabled")
		return nil
	}

	fileSink, err := transcripts.NewFileSink(tc.TranscriptsStorage)
	if err != nil {
		return err
	}
	sinks := []transcripts.Sink{fileSink}

	if len(tc.NATS.Servers) > 0 {
		conn, err := transcripts.ConnectNATS(tc.NATS, a.logger)
		if err != nil {
			return err
		}
		a.onClose(func(context.Context) error { return drainNATS(conn) })
		sinks = append(sinks, transcripts.NewNATSSink(conn, tc.NATS.SubjectPrefix))
	}

	recorder := transcripts.NewRecorder(bus, a.logger, sinks...)
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		recorder.Run(runCtx)
	}()
	// Closing the bus lets the recorder write what is queued and return;
	// the shutdown deadline cuts that short.
	a.onClose(func(ctx context.Context) error {
		defer cancel()
		bus.Close()
		select {
		case <-done:
		case <-ctx.Done():
			cancel()
			<-done
		}
		return nil
	})
	return nil
}

func drainNATS(conn *nats.Conn) error {
	if err := conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

func (a *app) onClose(c server.Closer) {
	a.closers = append(a.closers, c)
}

// shutdownOrder returns the closers newest first.
func (a *app) shutdownOrder() []server.Closer {
	out := make([]server.Closer, 0, len(a.closers))
	for i := len(a.closers) - 1; i >= 0; i-- {
		out = append(out, a.closers[i])
	}
	return out
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	for _, c := range a.shutdownOrder() {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// routerDeps hands the assembled service to the HTTP layer.
func (a *app) routerDeps() api.Deps {
	return api.Deps{
		Querier:       a.service,
		Models:        a.models,
		Index:         a.index,
		Authenticator: authenticator(a.cfg.OLSConfig.Authentication),
		REST:          a.metrics,
		Metrics:       a.metrics.Handler(),
		Logger:        a.logger,
	}
}

func authenticator(cfg config.AuthenticationConfig) middleware.Authenticator {
	if cfg.Disabled || cfg.Module != config.AuthAAP {
		return middleware.NoopAuthenticator
	}
	var controller *pkgauth.Controller
	if cfg.ControllerURL != "" {
		controller = pkgauth.NewController(cfg.ControllerURL, cfg.SkipTLSVerification)
	}
	return pkgauth.NewAAP(controller)
}

func providerModels(cfg config.Config) []metrics.ProviderModel {
	var pairs []metrics.ProviderModel
	for _, p := range cfg.LLMProviders {
		for _, m := range p.Models {
			pairs = append(pairs, metrics.ProviderModel{Provider: p.Name, Model: m.Name})
		}
	}
	return pairs
}
