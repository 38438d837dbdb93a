// Package notifier delivers cache entry changes to subscribers through the
// scheduler.
//
// Every store change enqueues one work item per subscriber of the changed
// key, at that subscriber's priority and batched by subscription ID. Many
// changes inside one turn therefore reach a subscriber once, with the entry
// as it is when the work runs. A subscriber is not called again for an
// entry it has already seen (same Version and Seq).
//
// When the last subscriber of a key leaves, the key is detached from
// revalidation and a garbage-collection timer is armed for the policy's
// CacheTime. A new subscriber before the timer fires keeps the entry.
package notifier
