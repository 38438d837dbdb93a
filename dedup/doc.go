// Package dedup guarantees at most one in-flight fetch per cache key.
//
// Concurrent callers asking for the same key join one execution through
// golang.org/x/sync/singleflight; each gets a *Future settled with the
// shared outcome. Alongside the group, a registry records request metadata
// (start time, retry count), a cancel token and the number of callers per
// key.
//
// A fetch is cancelled through Cancel, or through Release once every caller
// has withdrawn. The context passed to Fetch
// contributes its values (trace spans, loggers) but not its cancellation,
// because the fetch is shared by every caller that joined it.
//
// Fetch outcomes:
//   - success: the fetcher's data, nil error
//   - *NetworkError: the fetcher returned an error or panicked
//   - *AbortError: the fetcher failed after the request was cancelled;
//     errors.Is(err, ErrAborted)
package dedup
