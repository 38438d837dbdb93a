package health

import "errors"

var (
	// ErrNilSource is reported by checkers built without a source.
	ErrNilSource = errors.New("health: source is nil")

	// ErrSchedulerHalted is reported when the update loop stopped on a fatal error.
	ErrSchedulerHalted = errors.New("health: scheduler halted")

	// ErrErrorRatio is reported when too many cache entries are in the error state.
	ErrErrorRatio = errors.New("health: error ratio exceeded")
)
