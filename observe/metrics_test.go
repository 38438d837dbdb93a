package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jonwraymond/swrcache/dedup"
)

func newTestMetrics(t *testing.T) (Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

// findMetric returns the metric named name, or nil.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumInt64 adds up all data points of an int64 counter.
func sumInt64(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	if m == nil {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_RecordFetch(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantErrors int64
		outcome    string
	}{
		{name: "success", outcome: "ok"},
		{name: "network error", err: &dedup.NetworkError{Err: errors.New("down")}, wantErrors: 1, outcome: "error"},
		{name: "aborted", err: &dedup.AbortError{}, outcome: "aborted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reader := newTestMetrics(t)
			m.RecordFetch(context.Background(), FetchMeta{Key: `["k"]`, Attempt: 1}, 120*time.Millisecond, tt.err)

			rm := collect(t, reader)
			total := findMetric(rm, MetricFetchTotal)
			if got := sumInt64(t, total); got != 1 {
				t.Errorf("%s = %d, want 1", MetricFetchTotal, got)
			}
			if got := sumInt64(t, findMetric(rm, MetricFetchErrors)); got != tt.wantErrors {
				t.Errorf("%s = %d, want %d", MetricFetchErrors, got, tt.wantErrors)
			}

			dp := total.Data.(metricdata.Sum[int64]).DataPoints[0]
			if v, ok := dp.Attributes.Value(attribute.Key("swr.outcome")); !ok || v.AsString() != tt.outcome {
				t.Errorf("swr.outcome = %v, want %q", v.AsString(), tt.outcome)
			}

			hist := findMetric(rm, MetricFetchDuration)
			if hist == nil {
				t.Fatalf("%s not found", MetricFetchDuration)
			}
			h := hist.Data.(metricdata.Histogram[float64])
			if h.DataPoints[0].Sum != 120 {
				t.Errorf("duration sum = %v, want 120", h.DataPoints[0].Sum)
			}
		})
	}
}

func TestMetrics_RecordFetch_RetryAttribute(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordFetch(context.Background(), FetchMeta{Attempt: 1}, 0, nil)
	m.RecordFetch(context.Background(), FetchMeta{Attempt: 3}, 0, nil)

	sum := findMetric(collect(t, reader), MetricFetchTotal).Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 2 {
		t.Fatalf("data points = %d, want 2 (first attempt and retry)", len(sum.DataPoints))
	}
}

func TestMetrics_SchedulerInstruments(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordNotify(ctx, "urgent", false)
	m.RecordNotify(ctx, "normal", true)
	m.RecordFlush(ctx, 4, 3*time.Millisecond)
	m.RecordFlush(ctx, 2, time.Millisecond)
	m.RecordPreemption(ctx, "restart")

	rm := collect(t, reader)
	checks := []struct {
		name string
		want int64
	}{
		{MetricNotifyTotal, 2},
		{MetricFlushTotal, 2},
		{MetricPreemptionTotal, 1},
	}
	for _, c := range checks {
		if got := sumInt64(t, findMetric(rm, c.name)); got != c.want {
			t.Errorf("%s = %d, want %d", c.name, got, c.want)
		}
	}

	work := findMetric(rm, MetricFlushWork)
	if work == nil {
		t.Fatalf("%s not found", MetricFlushWork)
	}
	if got := work.Data.(metricdata.Histogram[int64]).DataPoints[0].Sum; got != 6 {
		t.Errorf("%s sum = %d, want 6", MetricFlushWork, got)
	}
}

func TestNopMetrics(t *testing.T) {
	m := NopMetrics()
	m.RecordFetch(context.Background(), FetchMeta{}, time.Second, errors.New("x"))
	m.RecordNotify(context.Background(), "urgent", true)
	m.RecordFlush(context.Background(), 1, time.Second)
	m.RecordPreemption(context.Background(), "resume")
}
