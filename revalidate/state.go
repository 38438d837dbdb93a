package revalidate

// State is the revalidation state of one key.
type State int

const (
	// StateAbsent means there is no data and no fetch in progress.
	StateAbsent State = iota
	// StateFresh means the data is within its stale time.
	StateFresh
	// StateStale means the data is served but due for revalidation.
	StateStale
	// StateRevalidating means a fetch or retry is in progress.
	StateRevalidating
	// StateError means the last fetch failed after all retries.
	StateError
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateRevalidating:
		return "revalidating"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// trigger selects how a revalidation request treats staleness and an
// in-flight fetch.
type trigger int

const (
	// ifStale revalidates only absent, stale or errored entries.
	ifStale trigger = iota
	// always ignores staleness; dropped while a fetch is in flight.
	always
	// forced ignores staleness; queues one follow-up while in flight.
	forced
)

func (t trigger) String() string {
	switch t {
	case ifStale:
		return "if_stale"
	case always:
		return "interval"
	default:
		return "forced"
	}
}
