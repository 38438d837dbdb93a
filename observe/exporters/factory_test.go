package exporters

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func env(m map[string]string) Option {
	return WithGetenv(func(k string) string { return m[k] })
}

func TestNewTracingExporter(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		env     map[string]string
		wantNil bool
		wantErr error
	}{
		{name: "stdout"},
		{name: "none", wantNil: true},
		{name: "", wantNil: true},
		{name: "otlp", wantErr: ErrNoEndpoint},
		{name: "jaeger", wantErr: ErrNoEndpoint},
		{name: "zipkin", wantErr: ErrUnknownExporter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp, err := NewTracingExporter(ctx, tt.name, env(tt.env), WithWriter(&bytes.Buffer{}))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewTracingExporter(%q) error = %v, want %v", tt.name, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewTracingExporter(%q) error = %v", tt.name, err)
			}
			if (exp == nil) != tt.wantNil {
				t.Errorf("NewTracingExporter(%q) nil = %v, want %v", tt.name, exp == nil, tt.wantNil)
			}
			if exp != nil {
				_ = exp.Shutdown(ctx)
			}
		})
	}
}

func TestNewMetricsReader(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		wantErr error
	}{
		{name: "stdout"},
		{name: "none"},
		{name: ""},
		{name: "otlp", wantErr: ErrNoEndpoint},
		{name: "statsd", wantErr: ErrUnknownExporter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewMetricsReader(ctx, tt.name, env(nil), WithWriter(&bytes.Buffer{}))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewMetricsReader(%q) error = %v, want %v", tt.name, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewMetricsReader(%q) error = %v", tt.name, err)
			}
			if r == nil {
				t.Fatalf("NewMetricsReader(%q) returned nil reader", tt.name)
			}
			_ = r.Shutdown(ctx)
		})
	}
}
