package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names.
const (
	MetricFetchTotal      = "swr.fetch.total"
	MetricFetchErrors     = "swr.fetch.errors"
	MetricFetchDuration   = "swr.fetch.duration_ms"
	MetricNotifyTotal     = "swr.notify.total"
	MetricFlushTotal      = "swr.scheduler.flushes"
	MetricFlushWork       = "swr.scheduler.flush.work_items"
	MetricFlushDuration   = "swr.scheduler.flush.duration_ms"
	MetricPreemptionTotal = "swr.scheduler.preemptions"
)

// Metrics records cache and scheduler metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly; the scheduler calls it from its loop.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordFetch records one fetch attempt with its duration and result.
	RecordFetch(ctx context.Context, meta FetchMeta, duration time.Duration, err error)

	// RecordNotify records one subscriber notification, delivered or skipped.
	RecordNotify(ctx context.Context, priority string, skipped bool)

	// RecordFlush records a scheduler flush pass.
	RecordFlush(ctx context.Context, executed int, duration time.Duration)

	// RecordPreemption records a non-urgent pass interrupted by urgent work.
	RecordPreemption(ctx context.Context, policy string)
}

type metricsImpl struct {
	fetchTotal    metric.Int64Counter
	fetchErrors   metric.Int64Counter
	fetchDuration metric.Float64Histogram
	notifyTotal   metric.Int64Counter
	flushTotal    metric.Int64Counter
	flushWork     metric.Int64Histogram
	flushDuration metric.Float64Histogram
	preemptions   metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{}
	var err error

	if m.fetchTotal, err = meter.Int64Counter(MetricFetchTotal,
		metric.WithDescription("Total number of fetch attempts"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.fetchErrors, err = meter.Int64Counter(MetricFetchErrors,
		metric.WithDescription("Total number of failed fetch attempts"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.fetchDuration, err = meter.Float64Histogram(MetricFetchDuration,
		metric.WithDescription("Fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.notifyTotal, err = meter.Int64Counter(MetricNotifyTotal,
		metric.WithDescription("Subscriber notifications, delivered or skipped"),
		metric.WithUnit("{notification}"),
	); err != nil {
		return nil, err
	}
	if m.flushTotal, err = meter.Int64Counter(MetricFlushTotal,
		metric.WithDescription("Scheduler flush passes"),
		metric.WithUnit("{flush}"),
	); err != nil {
		return nil, err
	}
	if m.flushWork, err = meter.Int64Histogram(MetricFlushWork,
		metric.WithDescription("Work items executed per flush"),
		metric.WithUnit("{work}"),
	); err != nil {
		return nil, err
	}
	if m.flushDuration, err = meter.Float64Histogram(MetricFlushDuration,
		metric.WithDescription("Flush duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.preemptions, err = meter.Int64Counter(MetricPreemptionTotal,
		metric.WithDescription("Non-urgent passes interrupted by urgent work"),
		metric.WithUnit("{preemption}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metricsImpl) RecordFetch(ctx context.Context, meta FetchMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(
		attribute.String("swr.outcome", Outcome(err)),
		attribute.Bool("swr.retry", meta.Attempt > 1),
	)

	m.fetchTotal.Add(ctx, 1, opt)
	if Outcome(err) == "error" {
		m.fetchErrors.Add(ctx, 1, opt)
	}
	m.fetchDuration.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordNotify(ctx context.Context, priority string, skipped bool) {
	m.notifyTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("swr.priority", priority),
		attribute.Bool("swr.skipped", skipped),
	))
}

func (m *metricsImpl) RecordFlush(ctx context.Context, executed int, duration time.Duration) {
	m.flushTotal.Add(ctx, 1)
	m.flushWork.Record(ctx, int64(executed))
	m.flushDuration.Record(ctx, float64(duration.Milliseconds()))
}

func (m *metricsImpl) RecordPreemption(ctx context.Context, policy string) {
	m.preemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("swr.policy", policy)))
}

type noopMetrics struct{}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics {
	return noopMetrics{}
}

func (noopMetrics) RecordFetch(context.Context, FetchMeta, time.Duration, error) {}
func (noopMetrics) RecordNotify(context.Context, string, bool)                   {}
func (noopMetrics) RecordFlush(context.Context, int, time.Duration)              {}
func (noopMetrics) RecordPreemption(context.Context, string)                     {}
