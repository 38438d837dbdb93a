package cache

import (
	"sort"
	"sync"

	"github.com/jonwraymond/swrcache/clock"
)

// ChangeKind identifies the Store operation behind a Change.
type ChangeKind int

const (
	ChangeWrite ChangeKind = iota
	ChangeLoading
	ChangeError
	ChangeAbort
	ChangeInvalidate
	ChangeEvict
)

// String returns the string representation of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeWrite:
		return "write"
	case ChangeLoading:
		return "loading"
	case ChangeError:
		return "error"
	case ChangeAbort:
		return "abort"
	case ChangeInvalidate:
		return "invalidate"
	case ChangeEvict:
		return "evict"
	default:
		return "unknown"
	}
}

// Change describes one Store mutation. Entry is the state after the mutation
// (the last state before removal for ChangeEvict).
type Change struct {
	Kind  ChangeKind
	Key   Key
	Entry Entry
}

// Listener observes Store mutations. Listeners run synchronously on the
// mutating goroutine after the store lock is released; they must not block.
type Listener func(Change)

type listener struct {
	id uint64
	fn Listener
}

// Store is the in-memory entry store.
//
// Contract:
// - Concurrency: safe for concurrent use; reads never block on listeners.
// - Ownership: entries are only mutated through Store methods; Get returns copies.
// - Ordering: Set always wins; SetAt is rejected when the entry moved past
//   the caller's base version.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	policy    Policy
	clock     clock.Clock
	listeners []listener
	nextID    uint64
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the clock used for FetchedAt/StaleAt. Default: clock.Real().
func WithClock(c clock.Clock) StoreOption {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewStore creates an empty store with the given policy.
func NewStore(policy Policy, opts ...StoreOption) *Store {
	s := &Store{
		entries: make(map[string]*Entry),
		policy:  policy,
		clock:   clock.Real(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the store policy.
func (s *Store) Policy() Policy {
	return s.policy
}

// Clock returns the store clock.
func (s *Store) Clock() clock.Clock {
	return s.clock
}

// Get returns a copy of the entry for key. It has no side effects.
func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key.id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Ensure returns the entry for key, creating an Idle entry if absent.
func (s *Store) Ensure(key Key) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.ensureLocked(key)
}

// Set writes data as a successful result and returns the new version.
func (s *Store) Set(key Key, data any) uint64 {
	s.mu.Lock()
	e := s.ensureLocked(key)
	s.writeLocked(e, data)
	snapshot := *e
	s.mu.Unlock()

	s.emit(ChangeWrite, snapshot)
	return snapshot.Version
}

// SetAt writes data only if the entry version still equals base, the version
// observed when the producing fetch started. It returns false, without
// notifying, when a newer write already landed.
func (s *Store) SetAt(key Key, data any, base uint64) bool {
	s.mu.Lock()
	e, ok := s.entries[key.id]
	if !ok {
		if base != 0 {
			s.mu.Unlock()
			return false
		}
		e = s.ensureLocked(key)
	}
	if e.Version != base {
		s.mu.Unlock()
		return false
	}
	s.writeLocked(e, data)
	snapshot := *e
	s.mu.Unlock()

	s.emit(ChangeWrite, snapshot)
	return true
}

// MarkLoading records that a fetch started. Without data the entry becomes
// Loading; with data it stays visible and only Validating is set.
func (s *Store) MarkLoading(key Key) {
	s.mu.Lock()
	e := s.ensureLocked(key)
	changed := false
	if e.HasData {
		if !e.Validating {
			e.Validating = true
			changed = true
		}
	} else if e.Status != StatusLoading {
		e.Status = StatusLoading
		changed = true
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	e.Seq++
	snapshot := *e
	s.mu.Unlock()

	s.emit(ChangeLoading, snapshot)
}

// MarkError records a failed fetch. Data is retained.
func (s *Store) MarkError(key Key, err error) {
	if err == nil {
		return
	}

	s.mu.Lock()
	e := s.ensureLocked(key)
	e.Status = StatusError
	e.Err = err
	e.Validating = false
	e.FailureCount++
	e.Seq++
	snapshot := *e
	s.mu.Unlock()

	s.emit(ChangeError, snapshot)
}

// MarkAborted records that an in-flight fetch was cancelled. A first load
// with no data falls back to Idle; a revalidation just stops validating.
func (s *Store) MarkAborted(key Key) {
	s.mu.Lock()
	e, ok := s.entries[key.id]
	if !ok {
		s.mu.Unlock()
		return
	}
	changed := e.Validating
	e.Validating = false
	if e.Status == StatusLoading && !e.HasData {
		e.Status = StatusIdle
		changed = true
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	e.Seq++
	snapshot := *e
	s.mu.Unlock()

	s.emit(ChangeAbort, snapshot)
}

// Invalidate forces the entry stale without touching Data. It returns false
// if the entry does not exist.
func (s *Store) Invalidate(key Key) bool {
	s.mu.Lock()
	e, ok := s.entries[key.id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	e.StaleAt = s.clock.Now()
	e.Invalidated = true
	snapshot := *e
	s.mu.Unlock()

	s.emit(ChangeInvalidate, snapshot)
	return true
}

// Evict removes the entry. It is idempotent on missing keys and fails with
// ErrHasSubscribers while anything still observes the entry.
func (s *Store) Evict(key Key) error {
	s.mu.Lock()
	e, ok := s.entries[key.id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if e.Subscribers > 0 {
		s.mu.Unlock()
		return ErrHasSubscribers
	}
	delete(s.entries, key.id)
	snapshot := *e
	s.mu.Unlock()

	s.emit(ChangeEvict, snapshot)
	return nil
}

// AddSubscriber increments the entry's subscriber count, creating the entry
// if needed, and returns the new count.
func (s *Store) AddSubscriber(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.ensureLocked(key)
	e.Subscribers++
	return e.Subscribers
}

// RemoveSubscriber decrements the entry's subscriber count and returns the
// new count. It never goes below zero.
func (s *Store) RemoveSubscriber(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key.id]
	if !ok {
		return 0
	}
	if e.Subscribers > 0 {
		e.Subscribers--
	}
	return e.Subscribers
}

// Keys returns all keys ordered by identity.
func (s *Store) Keys() []Key {
	return s.KeysWithPrefix(Key{})
}

// KeysWithPrefix returns the keys whose tuple starts with prefix, ordered by
// identity. The zero Key matches everything.
func (s *Store) KeysWithPrefix(prefix Key) []Key {
	s.mu.RLock()
	keys := make([]Key, 0, len(s.entries))
	for _, e := range s.entries {
		if prefix.IsZero() || e.Key.HasPrefix(prefix) {
			keys = append(keys, e.Key)
		}
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].id < keys[j].id })
	return keys
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Listen registers l for every subsequent mutation. The returned function
// removes it.
func (s *Store) Listen(l Listener) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: l})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, ln := range s.listeners {
			if ln.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) ensureLocked(key Key) *Entry {
	e, ok := s.entries[key.id]
	if !ok {
		e = &Entry{Key: key, Status: StatusIdle}
		s.entries[key.id] = e
	}
	return e
}

func (s *Store) writeLocked(e *Entry, data any) {
	now := s.clock.Now()
	e.Data = data
	e.HasData = true
	e.Err = nil
	e.Status = StatusSuccess
	e.Validating = false
	e.Invalidated = false
	e.FetchedAt = now
	e.StaleAt = s.policy.StaleAt(now)
	e.FailureCount = 0
	e.Version++
	e.Seq++
}

func (s *Store) emit(kind ChangeKind, e Entry) {
	s.mu.RLock()
	if len(s.listeners) == 0 {
		s.mu.RUnlock()
		return
	}
	fns := make([]Listener, len(s.listeners))
	for i, ln := range s.listeners {
		fns[i] = ln.fn
	}
	s.mu.RUnlock()

	change := Change{Kind: kind, Key: e.Key, Entry: e}
	for _, fn := range fns {
		fn(change)
	}
}
