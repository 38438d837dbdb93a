// Package clock abstracts wall-clock time and timers.
//
// The cache, revalidation policy and scheduler never call time.Now or
// time.AfterFunc directly; they take a Clock so staleness windows, retry
// backoff and eviction timers can be driven deterministically with Fake.
package clock
