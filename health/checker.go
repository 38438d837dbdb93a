package health

import (
	"context"
	"time"
)

// Status is the health of a cache client. Higher values are more severe.
type Status int

const (
	// StatusHealthy means the scheduler is running and keys are settling.
	StatusHealthy Status = iota
	// StatusDegraded means the client runs but a share of keys hold errors.
	StatusDegraded
	// StatusUnhealthy means the client can no longer make progress.
	StatusUnhealthy
)

var statusNames = [...]string{"healthy", "degraded", "unhealthy"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func worst(a, b Status) Status {
	return max(a, b)
}

// Result is the outcome of one check.
type Result struct {
	Status  Status
	Message string

	// Details carries check-specific values: counts, ratios, or the
	// Results of the checks a Combine wraps.
	Details map[string]any

	Duration  time.Duration
	Timestamp time.Time
	Error     error
}

func newResult(s Status, msg string, err error) Result {
	return Result{Status: s, Message: msg, Error: err, Timestamp: time.Now()}
}

// Healthy returns a healthy result.
func Healthy(msg string) Result { return newResult(StatusHealthy, msg, nil) }

// Degraded returns a degraded result.
func Degraded(msg string) Result { return newResult(StatusDegraded, msg, nil) }

// Unhealthy returns an unhealthy result caused by err.
func Unhealthy(msg string, err error) Result { return newResult(StatusUnhealthy, msg, err) }

// WithDetails returns r with details attached.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// WithDuration returns r with the time the check took.
func (r Result) WithDuration(d time.Duration) Result {
	r.Duration = d
	return r
}

// Checker reports the health of one part of the client.
//
// Contract:
//   - Concurrency: Check must be safe for concurrent use.
//   - Context: Check should honor cancellation and report it as unhealthy.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a function into a named Checker.
type CheckerFunc struct {
	name string
	fn   func(context.Context) Result
}

// NewCheckerFunc returns a Checker called name that runs fn.
func NewCheckerFunc(name string, fn func(context.Context) Result) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

func (f *CheckerFunc) Name() string { return f.name }

// Check runs the function and stamps the result with its duration.
func (f *CheckerFunc) Check(ctx context.Context) Result {
	start := time.Now()
	r := f.fn(ctx)
	if r.Duration == 0 {
		r.Duration = time.Since(start)
	}
	return r
}
