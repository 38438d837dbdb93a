package notifier

import "errors"

var (
	// ErrNilCallback is returned by Subscribe without a callback.
	ErrNilCallback = errors.New("notifier: callback is nil")

	// ErrMissingDependency is returned by New when Store or Scheduler is nil.
	ErrMissingDependency = errors.New("notifier: missing dependency")

	// ErrClosed is returned by Subscribe after Close.
	ErrClosed = errors.New("notifier: closed")
)
