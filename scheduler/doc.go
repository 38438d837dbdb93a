// Package scheduler runs prioritized work on a single event loop.
//
// The loop processes turns. A turn runs one posted task (a timer callback,
// a fetch settlement, a user action) and then flushes queued work, the way
// a browser drains microtasks after each task. Work is flushed in priority
// order: Urgent rounds first, then Normal, then Transition.
//
// Queued work with the same BatchKey collapses into one execution, so any
// number of updates inside a turn produce a single run per batch key.
//
// Between two non-urgent items is a yield point. If urgent work is pending
// there, the pass is suspended and the urgent work runs first. Under the
// Restart policy the interrupted pass is re-queued from its first item;
// under Resume only the items that have not run are re-queued. A long item
// can yield from inside by polling ShouldYield.
//
// Urgent work that keeps scheduling urgent work is bounded by MaxFlushDepth.
// Exceeding it is fatal: the flush returns a *FlushDepthExceededError and
// the scheduler stops.
package scheduler
