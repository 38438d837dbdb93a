package revalidate

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy defines how delays increase between retries.
type BackoffStrategy int

const (
	// BackoffExponential multiplies the delay by Multiplier each attempt.
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear increases delay linearly.
	BackoffLinear
	// BackoffConstant uses the same delay for all retries.
	BackoffConstant
)

// Backoff computes the wait before a retry.
type Backoff struct {
	// InitialDelay is the delay after the first failed attempt.
	// Default: 1s
	InitialDelay time.Duration

	// MaxDelay caps the delay.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier is the growth factor for exponential backoff.
	// Default: 2.0
	Multiplier float64

	// Strategy is the backoff strategy.
	// Default: BackoffExponential
	Strategy BackoffStrategy

	// Jitter adds up to 25% random delay.
	// Default: false
	Jitter bool
}

// DefaultBackoff returns 1s, 2s, 4s, ... capped at 30s, without jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Strategy:     BackoffExponential,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = d.Multiplier
	}
	return b
}

// Delay returns the wait after failed attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch b.Strategy {
	case BackoffConstant:
		delay = b.InitialDelay

	case BackoffLinear:
		delay = b.InitialDelay * time.Duration(attempt)

	default:
		multiplier := math.Pow(b.Multiplier, float64(attempt-1))
		f := float64(b.InitialDelay) * multiplier
		if f > float64(b.MaxDelay) || math.IsInf(f, 0) {
			delay = b.MaxDelay
		} else {
			delay = time.Duration(f)
		}
	}

	if delay > b.MaxDelay {
		delay = b.MaxDelay
	}

	if b.Jitter && delay >= 4 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += time.Duration(rand.Int64N(int64(delay / 4)))
	}

	return delay
}
