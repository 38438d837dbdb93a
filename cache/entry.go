package cache

import "time"

// Status is the fetch lifecycle state of an entry.
type Status int

const (
	// StatusIdle means the entry exists but nothing has been fetched yet.
	StatusIdle Status = iota
	// StatusLoading means a first fetch is in flight and no data exists.
	StatusLoading
	// StatusSuccess means Data holds the result of the last successful write.
	StatusSuccess
	// StatusError means the last fetch failed; Data may still hold the last
	// known-good value.
	StatusError
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is a snapshot of one cached resource. Store hands out copies; mutating
// an Entry never changes the store.
type Entry struct {
	Key Key

	// Data is the last successfully written value. Only meaningful when HasData.
	Data    any
	HasData bool

	// Err is the error of the last failed fetch (StatusError only).
	Err error

	Status Status

	// Validating is true while a background revalidation runs over existing data.
	Validating bool

	FetchedAt time.Time
	StaleAt   time.Time

	// Invalidated is set by Store.Invalidate and cleared by the next write.
	Invalidated bool

	// Version increments on every successful write.
	Version uint64

	// Seq increments on every mutation a subscriber can observe.
	Seq uint64

	Subscribers int

	// FailureCount counts failed fetches since the last successful write.
	FailureCount int
}

// IsStale reports whether the entry must be revalidated at now.
// An entry with no data is always stale.
func (e Entry) IsStale(now time.Time) bool {
	if !e.HasData {
		return true
	}
	return e.Invalidated || now.After(e.StaleAt)
}
