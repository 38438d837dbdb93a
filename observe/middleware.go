package observe

import (
	"context"
	"time"

	"github.com/jonwraymond/swrcache/cache"
	"github.com/jonwraymond/swrcache/dedup"
)

// Middleware wraps a fetcher with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap returns a fetcher safe for concurrent use.
//   - Context: the span context is passed to the wrapped fetcher, so
//     cancellation of the fetch token still reaches it.
//   - Errors: errors from the wrapped fetcher are recorded and returned unchanged.
//   - Ownership: fetched data is passed through without modification.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a Middleware. Nil components become no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Wrap wraps fn. The attempt number is read from the fetch context.
func (m *Middleware) Wrap(fn dedup.Fetcher) dedup.Fetcher {
	return func(ctx context.Context, key cache.Key) (any, error) {
		meta := FetchMeta{Key: key.ID(), Attempt: dedup.AttemptFromContext(ctx)}

		ctx, span := m.tracer.StartSpan(ctx, meta)
		start := time.Now()

		data, err := fn(ctx, key)

		duration := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordFetch(ctx, meta, duration, err)

		log := m.logger.With(F("key", meta.Key), F("attempt", meta.Attempt))
		fields := []Field{F("duration_ms", float64(duration.Milliseconds()))}
		switch Outcome(err) {
		case "ok":
			log.Debug(ctx, "fetch completed", fields...)
		case "aborted":
			log.Debug(ctx, "fetch aborted", fields...)
		default:
			fields = append(fields, F("error", err.Error()))
			log.Warn(ctx, "fetch failed", fields...)
		}

		return data, err
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}
