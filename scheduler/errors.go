package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrStopped is returned by Post and Enqueue after Stop or a fatal error.
	ErrStopped = errors.New("scheduler: stopped")

	// ErrAlreadyRunning is returned when the loop is driven from two goroutines.
	ErrAlreadyRunning = errors.New("scheduler: loop already running")

	// ErrFlushDepthExceeded matches every *FlushDepthExceededError.
	ErrFlushDepthExceeded = errors.New("scheduler: maximum flush depth exceeded")

	// ErrNilWork is returned by Enqueue for nil work or work without Run.
	ErrNilWork = errors.New("scheduler: work is nil")

	// ErrInvalidPriority is returned by ParsePriority.
	ErrInvalidPriority = errors.New("scheduler: invalid priority")
)

// FlushDepthExceededError reports a flush that ran more rounds than allowed,
// which means work keeps scheduling more work without settling.
type FlushDepthExceededError struct {
	Depth int
	Limit int
	Turn  uint64
}

func (e *FlushDepthExceededError) Error() string {
	return fmt.Sprintf("scheduler: flush depth %d exceeded limit %d in turn %d", e.Depth, e.Limit, e.Turn)
}

// Is reports whether target is ErrFlushDepthExceeded.
func (e *FlushDepthExceededError) Is(target error) bool {
	return target == ErrFlushDepthExceeded
}
