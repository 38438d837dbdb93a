package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/swrcache/dedup"
)

// FetchSpanName is the name of every fetch span. Keys are carried as an
// attribute so span names stay low-cardinality.
const FetchSpanName = "swr.fetch"

// FetchMeta describes one fetch attempt for telemetry purposes.
type FetchMeta struct {
	Key     string // canonical key ID
	Attempt int    // 1-based attempt number
}

// Outcome classifies a fetch result: "ok", "aborted" or "error".
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, dedup.ErrAborted), errors.Is(err, context.Canceled):
		return "aborted"
	default:
		return "error"
	}
}

// Tracer wraps OpenTelemetry tracing with fetch-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a fetch attempt.
	StartSpan(ctx context.Context, meta FetchMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta FetchMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("swr.key", meta.Key),
		attribute.Int("swr.attempt", meta.Attempt),
		attribute.Bool("swr.error", false),
	}

	return t.tracer.Start(ctx, FetchSpanName,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpan ends the span. Aborted fetches are not errors: the span is ended
// with an Unset status and an outcome attribute.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	outcome := Outcome(err)
	span.SetAttributes(attribute.String("swr.outcome", outcome))
	switch outcome {
	case "ok":
		span.SetStatus(codes.Ok, "")
	case "error":
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("swr.error", true))
		span.RecordError(err)
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

// NopTracer returns a Tracer that records nothing.
func NopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, _ FetchMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, FetchSpanName)
}

func (t *noopTracer) EndSpan(span trace.Span, _ error) {
	span.End()
}
