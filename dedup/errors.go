package dedup

import (
	"errors"
	"fmt"

	"github.com/jonwraymond/swrcache/cache"
)

var (
	// ErrAborted matches every *AbortError.
	ErrAborted = errors.New("dedup: fetch aborted")

	// ErrFetcherPanic is wrapped by a NetworkError when a fetcher panics.
	ErrFetcherPanic = errors.New("dedup: fetcher panicked")

	// ErrNilFetcher is returned when Fetch is called without a fetcher.
	ErrNilFetcher = errors.New("dedup: fetcher is nil")
)

// NetworkError reports a failed fetch attempt.
type NetworkError struct {
	Key     cache.Key
	Attempt int
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("dedup: fetch %s (attempt %d): %v", e.Key, e.Attempt, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AbortError reports a fetch that failed after its cancel token was
// signalled. A fetcher that returns data despite the signal settles
// normally.
type AbortError struct {
	Key cache.Key
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("dedup: fetch %s aborted", e.Key)
}

// Is reports whether target is ErrAborted.
func (e *AbortError) Is(target error) bool {
	return target == ErrAborted
}
