package cache

import "time"

// Policy configures entry freshness and retention.
type Policy struct {
	// StaleTime is how long written data counts as fresh.
	// Zero means data is stale as soon as time moves past the write.
	StaleTime time.Duration

	// CacheTime is how long an entry with zero subscribers is retained
	// before eviction.
	CacheTime time.Duration
}

// DefaultPolicy returns the default cache policy.
// StaleTime: 0, CacheTime: 5 minutes
func DefaultPolicy() Policy {
	return Policy{
		StaleTime: 0,
		CacheTime: 5 * time.Minute,
	}
}

// StaleAt returns the staleness deadline for data written at fetchedAt.
func (p Policy) StaleAt(fetchedAt time.Time) time.Time {
	if p.StaleTime <= 0 {
		return fetchedAt
	}
	return fetchedAt.Add(p.StaleTime)
}

// RetainFor returns how long an unobserved entry is kept. Negative values
// are treated as zero (evict on the next timer turn).
func (p Policy) RetainFor() time.Duration {
	if p.CacheTime < 0 {
		return 0
	}
	return p.CacheTime
}
