package revalidate

import (
	"testing"
	"time"
)

func TestBackoff_DefaultCurve(t *testing.T) {
	b := DefaultBackoff()
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestBackoff_Strategies(t *testing.T) {
	tests := []struct {
		name    string
		b       Backoff
		attempt int
		want    time.Duration
	}{
		{"linear", Backoff{InitialDelay: time.Second, Strategy: BackoffLinear}, 3, 3 * time.Second},
		{"constant", Backoff{InitialDelay: 500 * time.Millisecond, Strategy: BackoffConstant}, 5, 500 * time.Millisecond},
		{"custom multiplier", Backoff{InitialDelay: 100 * time.Millisecond, Multiplier: 3}, 3, 900 * time.Millisecond},
		{"cap", Backoff{InitialDelay: time.Second, MaxDelay: 5 * time.Second}, 10, 5 * time.Second},
		{"huge attempt", DefaultBackoff(), 5000, 30 * time.Second},
		{"attempt below one", DefaultBackoff(), 0, time.Second},
		{"zero value uses defaults", Backoff{}, 2, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.b.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := DefaultBackoff()
	b.Jitter = true
	for range 100 {
		got := b.Delay(2)
		if got < 2*time.Second || got >= 2500*time.Millisecond {
			t.Fatalf("Delay(2) with jitter = %v, want [2s, 2.5s)", got)
		}
	}
}
