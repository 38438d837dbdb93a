package clock

import "time"

// Clock tells time and arms one-shot timers.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - AfterFunc runs f in its own goroutine (Real) or in the goroutine that
//   advances time (Fake); f must not assume either.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a handle to a pending AfterFunc call.
type Timer interface {
	// Stop prevents the timer from firing. Returns false if it already fired
	// or was stopped.
	Stop() bool
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
