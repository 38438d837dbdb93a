package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/swrcache/observe/exporters"
)

// Config selects the exporters behind an Observer. An empty exporter name
// leaves that signal on a no-op provider; "none" installs an SDK provider
// without an exporter, which still records spans and measurements in-process.
type Config struct {
	ServiceName string
	Version     string

	// TraceExporter is otlp, jaeger, stdout or none.
	TraceExporter string
	// SampleRatio is the fraction of fetch spans kept, in [0, 1].
	SampleRatio float64

	// MetricsExporter is otlp, prometheus, stdout or none.
	MetricsExporter string

	// LogLevel is debug, info, warn or error. Empty disables logging.
	LogLevel string
}

var traceExporters = map[string]bool{"otlp": true, "jaeger": true, "stdout": true, "none": true}

var metricsExporters = map[string]bool{"otlp": true, "prometheus": true, "stdout": true, "none": true}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate reports the first problem with c.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}
	if c.TraceExporter != "" {
		if !traceExporters[c.TraceExporter] {
			return fmt.Errorf("%w: %q", ErrInvalidTracingExporter, c.TraceExporter)
		}
		if c.SampleRatio < MinSampleRatio || c.SampleRatio > MaxSampleRatio {
			return fmt.Errorf("%w, got: %f", ErrInvalidSampleRatio, c.SampleRatio)
		}
	}
	if c.MetricsExporter != "" && !metricsExporters[c.MetricsExporter] {
		return fmt.Errorf("%w: %q", ErrInvalidMetricsExporter, c.MetricsExporter)
	}
	if c.LogLevel != "" && !logLevels[c.LogLevel] {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return nil
}

// Observer provides access to telemetry primitives.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Shutdown must honor cancellation/deadlines.
// - Errors: Shutdown should be idempotent and return the first error encountered.
type Observer interface {
	Tracer() trace.Tracer
	Meter() metric.Meter
	Logger() Logger
	Shutdown(ctx context.Context) error
}

// Logger is a minimal structured logging interface.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: logging must be best-effort and must not panic.
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)

	// With returns a logger that adds fields to every entry.
	With(fields ...Field) Logger
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value any
}

// F is shorthand for Field{Key: key, Value: value}.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

type observer struct {
	tracer trace.Tracer
	meter  metric.Meter
	logger Logger

	mu sync.Mutex
	// shutdowns flush and stop the SDK providers, tracer first.
	shutdowns []func(context.Context) error
}

// NewObserver builds the providers named by cfg and registers them as the
// global OpenTelemetry providers.
func NewObserver(ctx context.Context, cfg Config) (Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	obs := &observer{
		tracer: tracenoop.NewTracerProvider().Tracer(cfg.ServiceName),
		meter:  noop.NewMeterProvider().Meter(cfg.ServiceName),
		logger: NopLogger(),
	}
	if cfg.LogLevel != "" {
		obs.logger = NewLogger(cfg.LogLevel)
	}

	if cfg.TraceExporter != "" {
		tp, err := newTracerProvider(ctx, cfg, res)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(tp)
		obs.tracer = tp.Tracer(cfg.ServiceName)
		obs.shutdowns = append(obs.shutdowns, tp.Shutdown)
	}

	if cfg.MetricsExporter != "" {
		mp, err := newMeterProvider(ctx, cfg, res)
		if err != nil {
			_ = obs.Shutdown(ctx)
			return nil, err
		}
		otel.SetMeterProvider(mp)
		obs.meter = mp.Meter(cfg.ServiceName)
		obs.shutdowns = append(obs.shutdowns, mp.Shutdown)
	}

	return obs, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio >= MaxSampleRatio {
		return sdktrace.AlwaysSample()
	}
	if ratio <= MinSampleRatio {
		return sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp, err := exporters.NewTracingExporter(ctx, cfg.TraceExporter)
	if err != nil {
		return nil, fmt.Errorf("observe: trace exporter: %w", err)
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func newMeterProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	reader, err := exporters.NewMetricsReader(ctx, cfg.MetricsExporter)
	if err != nil {
		return nil, fmt.Errorf("observe: metrics reader: %w", err)
	}
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if reader != nil {
		opts = append(opts, sdkmetric.WithReader(reader))
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}

func (o *observer) Tracer() trace.Tracer { return o.tracer }

func (o *observer) Meter() metric.Meter { return o.meter }

func (o *observer) Logger() Logger { return o.logger }

// Shutdown flushes every provider even when an earlier one fails.
func (o *observer) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errs []error
	for _, stop := range o.shutdowns {
		if err := stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	o.shutdowns = nil
	return errors.Join(errs...)
}

type nopLogger struct{}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return nopLogger{}
}

func (nopLogger) Info(context.Context, string, ...Field)  {}
func (nopLogger) Warn(context.Context, string, ...Field)  {}
func (nopLogger) Error(context.Context, string, ...Field) {}
func (nopLogger) Debug(context.Context, string, ...Field) {}
func (l nopLogger) With(...Field) Logger                  { return l }
