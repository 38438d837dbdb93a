package scheduler

import (
	"context"
	"sync/atomic"
	"time"
)

// Work is one unit of scheduled work.
type Work struct {
	// ID is assigned by Enqueue.
	ID uint64
	// Priority selects the queue. Invalid priorities are treated as Normal.
	Priority Priority
	// BatchKey collapses queued work: while a work item with the same
	// non-empty key is queued, enqueuing again replaces its Run.
	BatchKey string
	// Run executes the work on the loop goroutine.
	Run func(ctx context.Context)
	// EnqueuedAt is set by Enqueue.
	EnqueuedAt time.Time

	cancelled atomic.Bool
}

// Cancel prevents the work from running if it has not started yet.
func (w *Work) Cancel() {
	w.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (w *Work) Cancelled() bool {
	return w.cancelled.Load()
}

type execKey struct{}

// execState belongs to one non-urgent execution.
type execState struct {
	s         *Scheduler
	passStart time.Time
	yielded   bool
}

// ShouldYield reports whether the non-urgent work running with ctx should
// return early because urgent work is waiting or its time slice ran out.
// A work item that returns after ShouldYield reported true is treated as
// interrupted and re-queued. Outside scheduled non-urgent work ShouldYield
// always returns false.
func ShouldYield(ctx context.Context) bool {
	st, ok := ctx.Value(execKey{}).(*execState)
	if !ok || st == nil {
		return false
	}
	if st.s.urgentPending() || st.s.sliceExpired(st.passStart) {
		st.yielded = true
		return true
	}
	return false
}
