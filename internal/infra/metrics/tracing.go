package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

// Span exporters.
const (
	ExporterNone   = "none"
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// SetupTracing installs the global tracer provider. With no exporter the
// global no-op provider is left in place. An OTLP endpoint alone is enough
// to select the OTLP exporter.
func SetupTracing(ctx context.Context, cfg config.TracingConfig, logger *slog.Logger) (ShutdownFunc, error) {
	if logger == nil {
		logger = slog.Default()
	}
	exporterName := cfg.Exporter
	if cfg.OTLPEndpoint != "" && (exporterName == "" || exporterName == ExporterNone) {
		exporterName = ExporterOTLP
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch exporterName {
	case "", ExporterNone:
		return func(context.Context) error { return nil }, nil
	case ExporterOTLP:
		if cfg.OTLPEndpoint == "" {
			return nil, fmt.Errorf("metrics: otlp exporter needs an endpoint")
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case ExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(os.Stdout), stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("metrics: unknown span exporter %q", exporterName)
	}
	if err != nil {
		return nil, fmt.Errorf("metrics: span exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "lightspeed"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("metrics: resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled",
		slog.String("component", "tracing"),
		slog.String("exporter", exporterName),
	)
	return tp.Shutdown, nil
}
