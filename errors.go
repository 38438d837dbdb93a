package swrcache

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed Client.
	ErrClosed = errors.New("swrcache: client closed")

	// ErrNoFetcher is returned by Fetch when neither WithFetcher nor a
	// registered fetcher is available for the key.
	ErrNoFetcher = errors.New("swrcache: no fetcher for key")

	// ErrNilMutation is returned by Mutation without a function to run.
	ErrNilMutation = errors.New("swrcache: mutation function is nil")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("swrcache: invalid config")
)

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
