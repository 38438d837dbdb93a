package revalidate

import "errors"

var (
	// ErrNilFetcher is returned by Track when no fetcher is given.
	ErrNilFetcher = errors.New("revalidate: fetcher is nil")

	// ErrMissingDependency is returned by New when Store, Dedup or Scheduler is nil.
	ErrMissingDependency = errors.New("revalidate: missing dependency")
)
