// Package observability wires OpenTelemetry tracing for pipeline runs.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Exporter names accepted by TracingConfig.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// TracingConfig contains tracing configuration
type TracingConfig struct {
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	Environment    string  `yaml:"environment"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	Exporter       string  `yaml:"exporter"` // "none" or "stdout"
	PrettyPrint    bool    `yaml:"pretty_print"`
}

// DefaultTracingConfig disables export; spans are still created against a
// no-op provider so callers never branch on tracing being enabled.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName:    "ledgerline",
		ServiceVersion: "1.0.0",
		Environment:    getEnv("ENVIRONMENT", "development"),
		SamplingRate:   1.0,
		Exporter:       getEnv("LEDGERLINE_TRACING_EXPORTER", ExporterNone),
	}
}

// Provider owns a tracer provider and its shutdown.
type Provider struct {
	provider trace.TracerProvider
	shutdown func(context.Context) error
}

// NewProvider builds a tracer provider from config. Stdout spans are written
// to w, or os.Stdout when w is nil.
func NewProvider(config TracingConfig, w io.Writer) (*Provider, error) {
	if config.Exporter == "" || config.Exporter == ExporterNone {
		return &Provider{
			provider: noop.NewTracerProvider(),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}
	if config.Exporter != ExporterStdout {
		return nil, fmt.Errorf("unknown tracing exporter %q", config.Exporter)
	}
	if w == nil {
		w = os.Stdout
	}

	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if config.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	return newSDKProvider(config, sdktrace.WithSyncer(exporter))
}

// newSDKProvider builds an SDK provider around a span processor option.
func newSDKProvider(config TracingConfig, processor sdktrace.TracerProviderOption) (*Provider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		processor,
	)
	return &Provider{provider: tp, shutdown: tp.Shutdown}, nil
}

// Tracer returns a pipeline tracer backed by this provider.
func (p *Provider) Tracer() *Tracer {
	return NewTracer(p.provider)
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}

// getEnv gets environment variable with default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
