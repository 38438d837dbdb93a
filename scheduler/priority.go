package scheduler

import (
	"fmt"
	"strings"
)

// Priority orders work. Lower values flush first.
type Priority int

const (
	// Urgent work reflects direct user input and preempts everything else.
	Urgent Priority = iota
	// Normal is the default for subscriber notifications.
	Normal
	// Transition work may be interrupted and redone.
	Transition

	numPriorities = 3
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	switch p {
	case Urgent:
		return "urgent"
	case Normal:
		return "normal"
	case Transition:
		return "transition"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p >= Urgent && p <= Transition
}

// ParsePriority parses "urgent", "normal" or "transition".
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "urgent":
		return Urgent, nil
	case "normal", "":
		return Normal, nil
	case "transition":
		return Transition, nil
	default:
		return Normal, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
}

// InterruptPolicy decides what happens to a non-urgent pass preempted by
// urgent work.
type InterruptPolicy int

const (
	// Restart re-queues the whole interrupted pass.
	Restart InterruptPolicy = iota
	// Resume re-queues only the items that did not complete.
	Resume
)

// String returns the string representation of the policy.
func (p InterruptPolicy) String() string {
	switch p {
	case Restart:
		return "restart"
	case Resume:
		return "resume"
	default:
		return "unknown"
	}
}
