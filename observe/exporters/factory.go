// Package exporters provides factory functions for creating OpenTelemetry exporters.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Errors returned by the factories.
var (
	ErrUnknownExporter = errors.New("exporters: unknown exporter")
	ErrNoEndpoint      = errors.New("exporters: endpoint not configured")
)

// Option configures an exporter factory.
type Option func(*options)

type options struct {
	writer io.Writer
	getenv func(string) string
}

// WithWriter sets the destination of the stdout exporters. Default os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.writer = w
		}
	}
}

// WithGetenv overrides environment lookup for endpoint detection.
func WithGetenv(fn func(string) string) Option {
	return func(o *options) {
		if fn != nil {
			o.getenv = fn
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{writer: os.Stdout, getenv: os.Getenv}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// firstEnv returns the first non-empty value among keys.
func (o options) firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := o.getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// NewTracingExporter creates a span exporter by name.
// Supported exporters: stdout, otlp, jaeger, none. The none exporter
// returns a nil exporter; callers register no batcher for it.
func NewTracingExporter(ctx context.Context, name string, opts ...Option) (sdktrace.SpanExporter, error) {
	o := buildOptions(opts)

	switch name {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(o.writer))

	case "otlp":
		if o.firstEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") == "" {
			return nil, fmt.Errorf("%w: set OTEL_EXPORTER_OTLP_ENDPOINT or OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", ErrNoEndpoint)
		}
		return otlptracegrpc.New(ctx)

	case "jaeger":
		// Jaeger ingests OTLP natively.
		if o.firstEnv("OTEL_EXPORTER_JAEGER_ENDPOINT") == "" {
			return nil, fmt.Errorf("%w: set OTEL_EXPORTER_JAEGER_ENDPOINT", ErrNoEndpoint)
		}
		return otlptracegrpc.New(ctx)

	case "none", "":
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, name)
	}
}

// NewMetricsReader creates a metrics reader by name.
// Supported exporters: stdout, otlp, prometheus, none. The none exporter
// returns a ManualReader that is never collected.
func NewMetricsReader(ctx context.Context, name string, opts ...Option) (sdkmetric.Reader, error) {
	o := buildOptions(opts)

	switch name {
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(o.writer))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	case "otlp":
		if o.firstEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT") == "" {
			return nil, fmt.Errorf("%w: set OTEL_EXPORTER_OTLP_ENDPOINT or OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", ErrNoEndpoint)
		}
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	case "prometheus":
		exp, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		return exp, nil

	case "none", "":
		return sdkmetric.NewManualReader(), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, name)
	}
}
