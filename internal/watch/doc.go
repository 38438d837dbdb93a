// Package watch streams the cached state of HTTP JSON endpoints.
//
// Each URL is one cache key. Every change a subscriber can observe is
// written to the output as one JSON line (an Event). The process maps
// SIGUSR1 to focus and SIGUSR2 to reconnect, so stale endpoints can be
// revalidated from outside.
package watch
