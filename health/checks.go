package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SchedulerSource exposes the state of an update loop.
type SchedulerSource interface {
	// Err returns the fatal error that halted the loop, or nil.
	Err() error
	// Pending returns the number of queued tasks and work items.
	Pending() int
}

// EntrySource exposes cache entry counts.
type EntrySource interface {
	// EntryCounts returns how many entries are in the error state and how
	// many entries exist.
	EntryCounts() (errored, total int)
}

// NewSchedulerChecker reports unhealthy once the loop has halted.
// A backlog above maxPending (when positive) reports degraded.
func NewSchedulerChecker(src SchedulerSource, maxPending int) Checker {
	return NewCheckerFunc("scheduler", func(ctx context.Context) Result {
		start := time.Now()
		if src == nil {
			return Unhealthy("no scheduler", ErrNilSource)
		}
		if err := ctx.Err(); err != nil {
			return Unhealthy("check cancelled", err)
		}

		pending := src.Pending()
		details := map[string]any{"pending": pending}

		var r Result
		switch err := src.Err(); {
		case err != nil:
			r = Unhealthy("scheduler halted", fmt.Errorf("%w: %w", ErrSchedulerHalted, err))
		case maxPending > 0 && pending > maxPending:
			r = Degraded(fmt.Sprintf("%d items pending", pending))
		default:
			r = Healthy("scheduler running")
		}
		return r.WithDetails(details).WithDuration(time.Since(start))
	})
}

// ErrorRatioConfig configures NewErrorRatioChecker.
type ErrorRatioConfig struct {
	// DegradedRatio is the errored/total ratio at which the check degrades.
	// Default: 0.25
	DegradedRatio float64

	// UnhealthyRatio is the ratio at which the check fails.
	// Default: 0.75
	UnhealthyRatio float64

	// MinEntries is the smallest total for which ratios are evaluated.
	// Default: 1
	MinEntries int
}

func (c ErrorRatioConfig) withDefaults() ErrorRatioConfig {
	if c.DegradedRatio <= 0 {
		c.DegradedRatio = 0.25
	}
	if c.UnhealthyRatio <= 0 {
		c.UnhealthyRatio = 0.75
	}
	if c.MinEntries <= 0 {
		c.MinEntries = 1
	}
	return c
}

// NewErrorRatioChecker grades the share of entries whose last fetch failed.
func NewErrorRatioChecker(src EntrySource, cfg ErrorRatioConfig) Checker {
	cfg = cfg.withDefaults()
	return NewCheckerFunc("entries", func(ctx context.Context) Result {
		start := time.Now()
		if src == nil {
			return Unhealthy("no entry source", ErrNilSource)
		}
		if err := ctx.Err(); err != nil {
			return Unhealthy("check cancelled", err)
		}

		errored, total := src.EntryCounts()
		var ratio float64
		if total > 0 {
			ratio = float64(errored) / float64(total)
		}
		details := map[string]any{
			"errored": errored,
			"total":   total,
			"ratio":   ratio,
		}

		msg := fmt.Sprintf("%d/%d entries errored", errored, total)
		var r Result
		switch {
		case total < cfg.MinEntries:
			r = Healthy("too few entries to grade")
		case ratio >= cfg.UnhealthyRatio:
			r = Unhealthy(msg, fmt.Errorf("%w: %.2f", ErrErrorRatio, ratio))
		case ratio >= cfg.DegradedRatio:
			r = Degraded(msg)
		default:
			r = Healthy(msg)
		}
		return r.WithDetails(details).WithDuration(time.Since(start))
	})
}

// Combine runs checkers in order and reports the most severe status. Each
// sub-result is stored in Details under the checker's name.
func Combine(name string, checkers ...Checker) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) Result {
		start := time.Now()
		status := StatusHealthy
		details := make(map[string]any, len(checkers))
		var errs []error
		healthy := 0

		for _, c := range checkers {
			r := c.Check(ctx)
			details[c.Name()] = r
			status = worst(status, r.Status)
			if r.Status == StatusHealthy {
				healthy++
			}
			if r.Error != nil {
				errs = append(errs, r.Error)
			}
		}

		msg := fmt.Sprintf("%d/%d checks healthy", healthy, len(checkers))
		r := Result{
			Status:    status,
			Message:   msg,
			Error:     errors.Join(errs...),
			Timestamp: time.Now(),
		}
		return r.WithDetails(details).WithDuration(time.Since(start))
	})
}
