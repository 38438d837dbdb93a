// Package revalidate decides when cached entries are fetched again.
//
// A Revalidator tracks a fetcher per key and drives each key through a small
// state machine:
//
//	Absent → Revalidating → Fresh → Stale → Revalidating → ...
//	                      ↘ Error (after retries are exhausted)
//
// Triggers:
//   - Attach: a subscriber appeared and the entry is absent, stale or errored
//   - OnFocus / OnReconnect: every attached key that is stale or errored
//   - OnTick: the refresh interval fired; staleness is not consulted
//   - Invalidate / Revalidate: forced
//
// Only one revalidation per key runs at a time. A trigger in the same
// scheduler turn as the fetch start is dropped; a forced trigger in a later
// turn queues exactly one follow-up fetch.
//
// Fetch results are applied on the scheduler loop with a version-guarded
// write, so a result that lost a race against a newer write is discarded.
// Failed fetches are retried with capped exponential backoff. Aborted
// fetches are silent.
package revalidate
