// Package cache holds keyed, versioned cache entries for stale-while-revalidate
// data fetching.
//
// It provides Key normalization (strings or ordered tuples of JSON
// primitives), the Entry lifecycle (Idle, Loading, Success, Error) and Store,
// the only place entries are mutated. Store knows nothing about fetching or
// scheduling; it reports every mutation to its listeners.
package cache
