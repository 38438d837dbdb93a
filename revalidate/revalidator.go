package revalidate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonwraymond/swrcache/cache"
	"github.com/jonwraymond/swrcache/clock"
	"github.com/jonwraymond/swrcache/dedup"
	"github.com/jonwraymond/swrcache/observe"
	"github.com/jonwraymond/swrcache/scheduler"
)

// DefaultFocusThrottle is the minimum spacing between focus revalidations.
const DefaultFocusThrottle = 5 * time.Second

// Config configures revalidation behavior.
type Config struct {
	// Retry is the number of retries after a failed initial attempt.
	// Zero disables retries.
	Retry int

	// RetryDelay returns the wait after failed attempt n (1-based).
	// Default: Backoff.Delay.
	RetryDelay func(attempt int) time.Duration

	// Backoff is used when RetryDelay is nil.
	Backoff Backoff

	// RetryIf reports whether a fetch error is retried.
	// Default: every error.
	RetryIf func(err error) bool

	// RevalidateOnFocus enables OnFocus.
	RevalidateOnFocus bool

	// RevalidateOnReconnect enables OnReconnect.
	RevalidateOnReconnect bool

	// RefreshInterval polls attached keys. Zero disables polling.
	RefreshInterval time.Duration

	// FocusThrottle is the minimum spacing between focus events that
	// trigger revalidation. Negative disables throttling.
	// Default: 5s
	FocusThrottle time.Duration
}

// DefaultConfig returns the default revalidation settings.
func DefaultConfig() Config {
	return Config{
		Retry:                 3,
		Backoff:               DefaultBackoff(),
		RevalidateOnFocus:     true,
		RevalidateOnReconnect: true,
		FocusThrottle:         DefaultFocusThrottle,
	}
}

// Deps are the collaborators of a Revalidator.
type Deps struct {
	Store     *cache.Store
	Dedup     *dedup.Deduplicator
	Scheduler *scheduler.Scheduler

	// Clock defaults to the store's clock.
	Clock clock.Clock
	// Logger defaults to observe.NopLogger().
	Logger observe.Logger
	// Middleware, if set, wraps every tracked fetcher.
	Middleware *observe.Middleware
}

// Metrics holds counters for a Revalidator.
type Metrics struct {
	Started   uint64
	Retries   uint64
	Failures  uint64
	Aborts    uint64
	Dropped   uint64
	FollowUps uint64
	Rejected  uint64
}

type keyState struct {
	key      cache.Key
	fetcher  dedup.Fetcher
	attached bool

	inflight  *dedup.Future
	base      uint64
	startTurn uint64
	followUp  bool
	retrying  bool
	// released is set once Detach withdrew from the in-flight request.
	released bool

	retryTimer    clock.Timer
	intervalTimer clock.Timer

	// gen invalidates timers armed for a previous attachment.
	gen uint64
}

// Revalidator schedules fetches for tracked keys.
//
// Contract:
//   - Concurrency: methods are safe from any goroutine. Fetch results,
//     retries and interval ticks are applied on the scheduler loop.
//   - Ordering: at most one revalidation per key is in flight.
//   - Errors: failed fetches are recorded on the cache entry; the
//     Revalidator itself never returns fetch errors.
//   - Store listeners must not call back into the Revalidator.
type Revalidator struct {
	cfg     Config
	store   *cache.Store
	dedup   *dedup.Deduplicator
	sched   *scheduler.Scheduler
	clock   clock.Clock
	logger  observe.Logger
	mw      *observe.Middleware
	focus   *rate.Limiter
	retryIf func(error) bool
	delay   func(int) time.Duration

	mu    sync.Mutex
	keys  map[string]*keyState
	stats Metrics
}

// New creates a Revalidator.
func New(cfg Config, deps Deps) (*Revalidator, error) {
	if deps.Store == nil || deps.Dedup == nil || deps.Scheduler == nil {
		return nil, ErrMissingDependency
	}
	if cfg.Retry < 0 {
		cfg.Retry = 0
	}
	if cfg.FocusThrottle == 0 {
		cfg.FocusThrottle = DefaultFocusThrottle
	}
	if cfg.RefreshInterval < 0 {
		cfg.RefreshInterval = 0
	}
	if deps.Clock == nil {
		deps.Clock = deps.Store.Clock()
	}
	if deps.Logger == nil {
		deps.Logger = observe.NopLogger()
	}

	r := &Revalidator{
		cfg:     cfg,
		store:   deps.Store,
		dedup:   deps.Dedup,
		sched:   deps.Scheduler,
		clock:   deps.Clock,
		logger:  deps.Logger.With(observe.F("component", "revalidate")),
		mw:      deps.Middleware,
		retryIf: cfg.RetryIf,
		delay:   cfg.RetryDelay,
		keys:    make(map[string]*keyState),
	}
	if r.retryIf == nil {
		r.retryIf = func(err error) bool { return err != nil }
	}
	if r.delay == nil {
		r.delay = cfg.Backoff.Delay
	}

	limit := rate.Inf
	if cfg.FocusThrottle > 0 {
		limit = rate.Every(cfg.FocusThrottle)
	}
	r.focus = rate.NewLimiter(limit, 1)

	return r, nil
}

// Config returns the revalidation configuration.
func (r *Revalidator) Config() Config {
	return r.cfg
}

// Track registers fetcher for key, replacing any previous fetcher.
func (r *Revalidator) Track(key cache.Key, fetcher dedup.Fetcher) error {
	if key.IsZero() {
		return cache.ErrInvalidKey
	}
	if fetcher == nil {
		return ErrNilFetcher
	}
	if r.mw != nil {
		fetcher = r.mw.Wrap(fetcher)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stateLocked(key).fetcher = fetcher
	return nil
}

// Tracked reports whether key has a fetcher.
func (r *Revalidator) Tracked(key cache.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ks, ok := r.keys[key.ID()]
	return ok && ks.fetcher != nil
}

// Attach marks key as observed and revalidates it if absent, stale or
// errored. It also starts the refresh interval. Reports whether a fetch
// started.
func (r *Revalidator) Attach(key cache.Key) bool {
	r.mu.Lock()
	ks := r.stateLocked(key)
	if !ks.attached {
		ks.attached = true
		ks.gen++
		r.armIntervalLocked(ks)
	}
	r.mu.Unlock()

	return r.trigger(key, ifStale)
}

// Detach marks key as unobserved. The in-flight fetch is cancelled unless
// another caller joined it, and pending retries and interval ticks are
// stopped.
func (r *Revalidator) Detach(key cache.Key) {
	r.mu.Lock()
	ks, ok := r.keys[key.ID()]
	if !ok || !ks.attached {
		r.mu.Unlock()
		return
	}
	ks.attached = false
	ks.gen++
	ks.followUp = false
	stopTimer(&ks.retryTimer)
	stopTimer(&ks.intervalTimer)
	release := ks.inflight != nil && !ks.released
	if release {
		ks.released = true
	}
	retrying := ks.retrying
	ks.retrying = false
	r.mu.Unlock()

	if release {
		r.dedup.Release(key)
	}
	if retrying {
		r.store.MarkAborted(key)
	}
}

// Forget detaches key and drops its fetcher.
func (r *Revalidator) Forget(key cache.Key) {
	r.Detach(key)
	r.mu.Lock()
	defer r.mu.Unlock()
	if ks, ok := r.keys[key.ID()]; ok && ks.inflight == nil {
		delete(r.keys, key.ID())
	}
}

// OnFocus revalidates every attached key that is stale or errored. Calls
// closer together than FocusThrottle are ignored. Returns the number of
// fetches started.
func (r *Revalidator) OnFocus() int {
	if !r.cfg.RevalidateOnFocus {
		return 0
	}
	if !r.focus.AllowN(r.clock.Now(), 1) {
		r.logger.Debug(context.Background(), "focus revalidation throttled")
		return 0
	}
	return r.triggerAttached(ifStale)
}

// OnReconnect revalidates every attached key that is stale or errored.
// Returns the number of fetches started.
func (r *Revalidator) OnReconnect() int {
	if !r.cfg.RevalidateOnReconnect {
		return 0
	}
	return r.triggerAttached(ifStale)
}

// OnTick revalidates key regardless of staleness. It is called by the
// refresh interval timer; a tick during an in-flight fetch is dropped.
func (r *Revalidator) OnTick(key cache.Key) bool {
	return r.trigger(key, always)
}

// Invalidate marks key stale and, if it is attached, forces a revalidation.
func (r *Revalidator) Invalidate(key cache.Key) bool {
	if !r.store.Invalidate(key) {
		return false
	}
	r.mu.Lock()
	ks, ok := r.keys[key.ID()]
	attached := ok && ks.attached
	r.mu.Unlock()
	if !attached {
		return false
	}
	return r.trigger(key, forced)
}

// Revalidate forces a revalidation of a tracked key.
func (r *Revalidator) Revalidate(key cache.Key) bool {
	return r.trigger(key, forced)
}

// State returns the revalidation state of key.
func (r *Revalidator) State(key cache.Key) State {
	r.mu.Lock()
	ks, ok := r.keys[key.ID()]
	busy := ok && (ks.inflight != nil || ks.retrying)
	r.mu.Unlock()
	if busy {
		return StateRevalidating
	}

	e, ok := r.store.Get(key)
	switch {
	case ok && e.Status == cache.StatusError:
		return StateError
	case !ok || !e.HasData:
		return StateAbsent
	case e.IsStale(r.clock.Now()):
		return StateStale
	default:
		return StateFresh
	}
}

// Pending returns the in-flight fetch for key, or nil.
func (r *Revalidator) Pending(key cache.Key) *dedup.Future {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ks, ok := r.keys[key.ID()]; ok {
		return ks.inflight
	}
	return nil
}

// Metrics returns a snapshot of the revalidation counters.
func (r *Revalidator) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Revalidator) stateLocked(key cache.Key) *keyState {
	ks, ok := r.keys[key.ID()]
	if !ok {
		ks = &keyState{key: key}
		r.keys[key.ID()] = ks
	}
	return ks
}

func (r *Revalidator) triggerAttached(t trigger) int {
	r.mu.Lock()
	keys := make([]cache.Key, 0, len(r.keys))
	for _, ks := range r.keys {
		if ks.attached {
			keys = append(keys, ks.key)
		}
	}
	r.mu.Unlock()

	started := 0
	for _, k := range keys {
		if r.trigger(k, t) {
			started++
		}
	}
	return started
}

// needsFetch reports whether an ifStale trigger should fetch key.
func (r *Revalidator) needsFetch(key cache.Key) bool {
	e, ok := r.store.Get(key)
	if !ok || !e.HasData || e.Status == cache.StatusError {
		return true
	}
	return e.IsStale(r.clock.Now())
}

func (r *Revalidator) trigger(key cache.Key, t trigger) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ks, ok := r.keys[key.ID()]
	if !ok || ks.fetcher == nil {
		return false
	}

	if ks.inflight != nil {
		// A forced trigger in the turn the fetch started is covered by it,
		// unless the entry was written since: that result will be rejected.
		if t == forced && !ks.followUp && (r.sched.Turn() != ks.startTurn || r.supersededLocked(ks)) {
			ks.followUp = true
			r.stats.FollowUps++
		} else {
			r.stats.Dropped++
		}
		return false
	}
	if t == ifStale && !ks.retrying && !r.needsFetch(key) {
		return false
	}

	// A new trigger supersedes a pending backoff wait.
	stopTimer(&ks.retryTimer)
	ks.retrying = false

	r.logger.Debug(context.Background(), "revalidating", observe.F("key", key.ID()), observe.F("trigger", t.String()))
	r.startLocked(ks, 1)
	return true
}

// supersededLocked reports whether the entry changed version after the
// in-flight fetch of ks read its base.
func (r *Revalidator) supersededLocked(ks *keyState) bool {
	e, ok := r.store.Get(ks.key)
	return ok && e.Version != ks.base
}

// startLocked starts attempt for ks. The store is updated while r.mu is
// held so the loading flag is visible before the fetch can settle.
func (r *Revalidator) startLocked(ks *keyState, attempt int) {
	var base uint64
	if e, ok := r.store.Get(ks.key); ok {
		base = e.Version
	}
	r.store.MarkLoading(ks.key)

	fut := r.dedup.FetchAttempt(context.Background(), ks.key, attempt, ks.fetcher)
	ks.inflight = fut
	ks.base = base
	ks.released = false
	ks.startTurn = r.sched.Turn()
	r.stats.Started++
	if attempt > 1 {
		r.stats.Retries++
	}

	key := ks.key
	fut.Then(func(data any, err error) {
		postErr := r.sched.Post(func() {
			r.settle(key, fut, base, attempt, data, err)
		})
		if postErr != nil {
			r.logger.Warn(context.Background(), "dropping fetch result", observe.F("key", key.ID()), observe.F("error", postErr))
		}
	})
}

// settle applies a fetch result on the scheduler loop. Data is written
// through the version guard even when the key was detached meanwhile.
func (r *Revalidator) settle(key cache.Key, fut *dedup.Future, base uint64, attempt int, data any, err error) {
	ctx := context.Background()

	r.mu.Lock()
	ks, ok := r.keys[key.ID()]
	if !ok || ks.inflight != fut {
		r.mu.Unlock()
		return
	}
	ks.inflight = nil
	ks.released = false
	followUp := ks.followUp
	ks.followUp = false
	attached := ks.attached
	refetch := false

	switch {
	case err == nil:
		if !r.store.SetAt(key, data, base) {
			r.stats.Rejected++
			r.store.MarkAborted(key)
			r.logger.Debug(ctx, "discarding out-of-order fetch result", observe.F("key", key.ID()), observe.F("base_version", base))
		}
		r.armIntervalLocked(ks)

	case errors.Is(err, dedup.ErrAborted):
		r.stats.Aborts++
		r.store.MarkAborted(key)
		// A subscriber that attached while the cancelled request was
		// still running has not been served.
		refetch = attached && !followUp
		followUp = followUp && attached

	case attempt <= r.cfg.Retry && r.retryIf(err) && attached:
		delay := r.delay(attempt)
		ks.retrying = true
		r.logger.Debug(ctx, "fetch failed, retrying",
			observe.F("key", key.ID()),
			observe.F("attempt", attempt),
			observe.F("delay_ms", delay.Milliseconds()),
			observe.F("error", err),
		)
		gen := ks.gen
		ks.retryTimer = r.clock.AfterFunc(delay, func() {
			_ = r.sched.Post(func() { r.retry(key, gen, attempt+1) })
		})
		// A retry is already queued; a follow-up would only duplicate it.
		followUp = false

	default:
		r.stats.Failures++
		r.store.MarkError(key, err)
		r.logger.Warn(ctx, "fetch failed", observe.F("key", key.ID()), observe.F("attempt", attempt), observe.F("error", err))
		r.armIntervalLocked(ks)
	}
	r.mu.Unlock()

	switch {
	case followUp:
		r.trigger(key, forced)
	case refetch:
		r.trigger(key, ifStale)
	}
}

func (r *Revalidator) retry(key cache.Key, gen uint64, attempt int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ks, ok := r.keys[key.ID()]
	if !ok || ks.gen != gen || !ks.retrying || ks.inflight != nil {
		return
	}
	ks.retryTimer = nil
	ks.retrying = false
	r.startLocked(ks, attempt)
}

// armIntervalLocked (re)starts the refresh interval of an attached key.
func (r *Revalidator) armIntervalLocked(ks *keyState) {
	stopTimer(&ks.intervalTimer)
	if r.cfg.RefreshInterval <= 0 || !ks.attached {
		return
	}
	key, gen := ks.key, ks.gen
	ks.intervalTimer = r.clock.AfterFunc(r.cfg.RefreshInterval, func() {
		_ = r.sched.Post(func() {
			r.mu.Lock()
			ks, ok := r.keys[key.ID()]
			live := ok && ks.gen == gen && ks.attached
			if live {
				ks.intervalTimer = nil
			}
			r.mu.Unlock()
			// A tick dropped because a fetch is in flight is re-armed by
			// that fetch's settlement.
			if live {
				r.OnTick(key)
			}
		})
	})
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// String implements fmt.Stringer for debugging.
func (m Metrics) String() string {
	return fmt.Sprintf("started=%d retries=%d failures=%d aborts=%d dropped=%d follow_ups=%d rejected=%d",
		m.Started, m.Retries, m.Failures, m.Aborts, m.Dropped, m.FollowUps, m.Rejected)
}
