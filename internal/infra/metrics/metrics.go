// Package metrics owns the OpenTelemetry meter and tracer providers.
// Instruments are exported in Prometheus format from a private registry so
// tests can build as many instances as they like.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

const meterName = "github.com/matiasleandrokruk/lightspeed"

// Metrics records the service counters. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	llmCalls         metric.Int64Counter
	llmFailures      metric.Int64Counter
	validationErrors metric.Int64Counter
	tokensSent       metric.Int64Counter
	tokensReceived   metric.Int64Counter
	providerModel    metric.Int64Gauge
	restCalls        metric.Int64Counter
	responseDuration metric.Float64Histogram
}

// New builds the meter provider and registers every instrument.
func New(serviceName string) (*Metrics, error) {
	if serviceName == "" {
		serviceName = "lightspeed"
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithoutScopeInfo(),
		otelprom.WithoutTargetInfo(),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: prometheus exporter: %w", err)
	}
	res := resource.NewSchemaless(semconv.ServiceName(serviceName))
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	meter := provider.Meter(meterName)

	m := &Metrics{registry: registry, provider: provider}
	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	m.llmCalls = counter("ols_llm_calls", "LLM calls counter")
	m.llmFailures = counter("ols_llm_calls_failures", "LLM calls failures")
	m.validationErrors = counter("ols_llm_validation_errors", "LLM validation errors")
	m.tokensSent = counter("ols_llm_token_sent", "LLM tokens sent")
	m.tokensReceived = counter("ols_llm_token_received", "LLM tokens received")
	m.restCalls = counter("ols_rest_api_calls", "REST API calls counter")

	m.providerModel, err = meter.Int64Gauge("ols_provider_model_configuration",
		metric.WithDescription("LLM provider/models combinations defined in configuration"))
	errs = append(errs, err)
	m.responseDuration, err = meter.Float64Histogram("response_duration",
		metric.WithDescription("Response durations"),
		metric.WithUnit("s"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("metrics: instruments: %w", err)
	}
	return m, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Shutdown flushes the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func modelAttrs(provider, model string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
	)
}

// LLMCall counts one generation request.
func (m *Metrics) LLMCall(ctx context.Context, provider, model string) {
	if m == nil {
		return
	}
	m.llmCalls.Add(ctx, 1, modelAttrs(provider, model))
}

// LLMFailure counts one failed generation or classification call.
func (m *Metrics) LLMFailure(ctx context.Context, provider, model string) {
	if m == nil {
		return
	}
	m.llmFailures.Add(ctx, 1, modelAttrs(provider, model))
}

// ValidationRejected counts a question refused by the topic classifier.
func (m *Metrics) ValidationRejected(ctx context.Context, provider, model string) {
	if m == nil {
		return
	}
	m.validationErrors.Add(ctx, 1, modelAttrs(provider, model))
}

// Tokens adds the token usage reported by the backend.
func (m *Metrics) Tokens(ctx context.Context, provider, model string, sent, received int) {
	if m == nil {
		return
	}
	if sent > 0 {
		m.tokensSent.Add(ctx, int64(sent), modelAttrs(provider, model))
	}
	if received > 0 {
		m.tokensReceived.Add(ctx, int64(received), modelAttrs(provider, model))
	}
}

// ProviderModel is one configured (provider, model) pair.
type ProviderModel struct {
	Provider string
	Model    string
}

// SetProviderModels publishes every configured pair; the default pair gets 1, the rest 0.
func (m *Metrics) SetProviderModels(ctx context.Context, pairs []ProviderModel, def ProviderModel) {
	if m == nil {
		return
	}
	for _, p := range pairs {
		var v int64
		if p == def {
			v = 1
		}
		m.providerModel.Record(ctx, v, modelAttrs(p.Provider, p.Model))
	}
}

// RESTCall records one HTTP request.
func (m *Metrics) RESTCall(ctx context.Context, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.restCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("status_code", strconv.Itoa(status)),
	))
	m.responseDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("path", path)))
}
