package swrcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/swrcache/cache"
	"github.com/jonwraymond/swrcache/clock"
	"github.com/jonwraymond/swrcache/dedup"
	"github.com/jonwraymond/swrcache/health"
	"github.com/jonwraymond/swrcache/notifier"
	"github.com/jonwraymond/swrcache/observe"
	"github.com/jonwraymond/swrcache/revalidate"
	"github.com/jonwraymond/swrcache/scheduler"
)

type (
	// Entry is a snapshot of one cached resource.
	Entry = cache.Entry
	// Key identifies one cached resource.
	Key = cache.Key
	// Fetcher loads the data for a key. Its context is cancelled when the
	// fetch is aborted.
	Fetcher = dedup.Fetcher
	// Priority orders subscriber notifications.
	Priority = scheduler.Priority
)

// Notification priorities, highest first.
const (
	Urgent     = scheduler.Urgent
	Normal     = scheduler.Normal
	Transition = scheduler.Transition
)

// Option configures a single Client call.
type Option func(*callOptions)

type callOptions struct {
	fetcher    Fetcher
	revalidate bool
}

// WithFetcher sets the fetcher for the key. On Subscribe the fetcher is
// registered for later revalidations; on Fetch it is used only for that call.
func WithFetcher(f Fetcher) Option {
	return func(o *callOptions) {
		o.fetcher = f
	}
}

// WithRevalidate controls whether Mutate revalidates the key after writing.
// Default: true
func WithRevalidate(revalidate bool) Option {
	return func(o *callOptions) {
		o.revalidate = revalidate
	}
}

func buildOptions(opts []Option) callOptions {
	o := callOptions{revalidate: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Stats is a snapshot of the client's counters.
type Stats struct {
	Entries    int
	Errored    int
	Scheduler  scheduler.Metrics
	Dedup      dedup.Metrics
	Revalidate revalidate.Metrics
	Notify     notifier.Metrics
}

// Client is a reactive data cache.
//
// Contract:
//   - Concurrency: all methods are safe from any goroutine. Subscriber
//     callbacks run on the goroutine driving Run or RunUntilIdle.
//   - Ordering: a subscriber never observes an older entry than one it
//     already received.
//   - Errors: fetch failures are recorded on the entry and returned by
//     Fetch; they never surface from Subscribe.
type Client struct {
	cfg    Config
	clock  clock.Clock
	store  *cache.Store
	dedup  *dedup.Deduplicator
	sched  *scheduler.Scheduler
	rv     *revalidate.Revalidator
	notify *notifier.Notifier
	logger observe.Logger
	mw     *observe.Middleware

	mu       sync.RWMutex
	fetchers map[string]Fetcher

	closed atomic.Bool
}

// New creates a Client. The scheduler loop does not run until Run or
// RunUntilIdle is called.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.CacheTime == 0 {
		cfg.CacheTime = DefaultConfig().CacheTime
	}

	logger := cfg.Logger
	var tracer observe.Tracer
	metrics := observe.NopMetrics()
	if cfg.Observer != nil {
		if logger == nil {
			logger = cfg.Observer.Logger()
		}
		m, err := observe.NewMetrics(cfg.Observer.Meter())
		if err != nil {
			return nil, fmt.Errorf("create metrics: %w", err)
		}
		metrics = m
		tracer = observe.NewTracer(cfg.Observer.Tracer())
	}
	if logger == nil {
		if cfg.LogLevel != "" {
			logger = observe.NewLogger(cfg.LogLevel)
		} else {
			logger = observe.NopLogger()
		}
	}
	mw := observe.NewMiddleware(tracer, metrics, logger)

	store := cache.NewStore(cache.Policy{
		StaleTime: cfg.StaleTime,
		CacheTime: cfg.CacheTime,
	}, cache.WithClock(cfg.Clock))

	dd := dedup.New(dedup.WithClock(cfg.Clock))

	sched := scheduler.New(scheduler.Config{
		MaxFlushDepth: cfg.MaxFlushDepth,
		TimeSlice:     cfg.TimeSlice,
		Interrupt:     cfg.Interrupt,
		Clock:         cfg.Clock,
		Logger:        logger,
		Metrics:       metrics,
	})

	rv, err := revalidate.New(revalidate.Config{
		Retry:                 cfg.Retry,
		RetryDelay:            cfg.RetryDelay,
		Backoff:               cfg.Backoff,
		RetryIf:               cfg.RetryIf,
		RevalidateOnFocus:     cfg.RevalidateOnFocus,
		RevalidateOnReconnect: cfg.RevalidateOnReconnect,
		RefreshInterval:       cfg.RefreshInterval,
		FocusThrottle:         cfg.FocusThrottle,
	}, revalidate.Deps{
		Store:      store,
		Dedup:      dd,
		Scheduler:  sched,
		Clock:      cfg.Clock,
		Logger:     logger,
		Middleware: mw,
	})
	if err != nil {
		return nil, fmt.Errorf("create revalidator: %w", err)
	}

	n, err := notifier.New(notifier.Deps{
		Store:       store,
		Scheduler:   sched,
		Revalidator: rv,
		Clock:       cfg.Clock,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create notifier: %w", err)
	}

	return &Client{
		cfg:      cfg,
		clock:    cfg.Clock,
		store:    store,
		dedup:    dd,
		sched:    sched,
		rv:       rv,
		notify:   n,
		logger:   logger.With(observe.F("component", "client")),
		mw:       mw,
		fetchers: make(map[string]Fetcher),
	}, nil
}

// Config returns the client configuration with defaults applied.
func (c *Client) Config() Config {
	return c.cfg
}

// Register sets the fetcher used to revalidate key.
func (c *Client) Register(key any, f Fetcher) error {
	k, err := cache.NewKey(key)
	if err != nil {
		return err
	}
	if f == nil {
		return revalidate.ErrNilFetcher
	}
	return c.register(k, f)
}

func (c *Client) register(k cache.Key, f Fetcher) error {
	if err := c.rv.Track(k, f); err != nil {
		return err
	}
	c.mu.Lock()
	c.fetchers[k.ID()] = f
	c.mu.Unlock()
	return nil
}

func (c *Client) fetcher(k cache.Key) Fetcher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchers[k.ID()]
}

// Subscribe registers cb for key at priority p. The first subscriber of a
// key revalidates it when it is absent or stale. A nil key registers
// nothing and returns a no-op unsubscribe.
func (c *Client) Subscribe(key any, p Priority, cb func(Entry), opts ...Option) (unsubscribe func(), err error) {
	if key == nil {
		return func() {}, nil
	}
	if c.closed.Load() {
		return nil, ErrClosed
	}
	k, err := cache.NewKey(key)
	if err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	f := o.fetcher
	if f == nil {
		f = c.fetcher(k)
	}
	// The revalidator forgets fetchers of evicted keys; re-register on
	// every subscribe so a returning key can revalidate again.
	if f != nil {
		if err := c.register(k, f); err != nil {
			return nil, err
		}
	}

	return c.notify.Subscribe(k, p, cb)
}

// Get returns the cached entry for key without fetching.
func (c *Client) Get(key any) (Entry, bool) {
	k, err := cache.NewKey(key)
	if err != nil {
		return Entry{}, false
	}
	return c.store.Get(k)
}

// Invalidate marks key stale and revalidates it if it has subscribers.
// Invalidating an unknown key is a no-op.
func (c *Client) Invalidate(key any) error {
	k, err := cache.NewKey(key)
	if err != nil {
		return err
	}
	c.rv.Invalidate(k)
	return nil
}

// InvalidatePrefix invalidates every key whose leading elements equal
// prefix. InvalidatePrefix("posts") matches "posts" and ["posts", 1].
// Returns the number of keys matched.
func (c *Client) InvalidatePrefix(prefix any) (int, error) {
	pk, err := cache.NewKey(prefix)
	if err != nil {
		return 0, err
	}
	return c.invalidatePrefix(pk), nil
}

func (c *Client) invalidatePrefix(pk cache.Key) int {
	keys := c.store.KeysWithPrefix(pk)
	for _, k := range keys {
		c.rv.Invalidate(k)
	}
	return len(keys)
}

// MutationFunc performs a change at the source of truth, such as a POST to
// the server, and returns its result.
type MutationFunc func(ctx context.Context) (any, error)

// Mutation runs fn off the loop and returns its pending result: Settled
// reports whether it is still running, Result its outcome. When fn
// succeeds, every cached key under one of the invalidate prefixes is
// invalidated before Wait returns, so subscribed keys refetch. A failed
// mutation leaves the cache untouched.
func (c *Client) Mutation(ctx context.Context, fn MutationFunc, invalidate ...any) (*dedup.Future, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if fn == nil {
		return nil, ErrNilMutation
	}
	prefixes := make([]cache.Key, 0, len(invalidate))
	for _, p := range invalidate {
		pk, err := cache.NewKey(p)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, pk)
	}

	fut := dedup.Async(ctx, fn)
	fut.Then(func(_ any, err error) {
		if err != nil {
			c.logger.Debug(ctx, "mutation failed", observe.F("error", err))
			return
		}
		n := 0
		for _, pk := range prefixes {
			n += c.invalidatePrefix(pk)
		}
		c.logger.Debug(ctx, "mutation succeeded", observe.F("invalidated", n))
	})
	return fut, nil
}

// Mutate writes data to key as if it had been fetched and, unless
// WithRevalidate(false) is given, revalidates it. A fetch in flight when
// Mutate runs cannot overwrite the mutation. Returns the new version.
func (c *Client) Mutate(key any, data any, opts ...Option) (uint64, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	k, err := cache.NewKey(key)
	if err != nil {
		return 0, err
	}
	o := buildOptions(opts)
	if o.fetcher != nil {
		if err := c.register(k, o.fetcher); err != nil {
			return 0, err
		}
	}

	version := c.store.Set(k, data)
	if o.revalidate {
		c.rv.Revalidate(k)
	}
	return version, nil
}

// Fetch returns fresh cached data for key, or fetches it. Concurrent
// fetches of one key share a single request. A successful result is
// written to the cache unless a newer write happened meanwhile.
//
// Cancelling ctx stops the wait, not the shared request, and the request
// is not cancelled when the key's last subscriber leaves while Fetch is
// joined to it.
func (c *Client) Fetch(ctx context.Context, key any, opts ...Option) (any, error) {
	fut, err := c.FetchAsync(ctx, key, opts...)
	if err != nil {
		return nil, err
	}
	return fut.Wait(ctx)
}

// FetchAsync is like Fetch but returns the pending result.
func (c *Client) FetchAsync(ctx context.Context, key any, opts ...Option) (*dedup.Future, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	k, err := cache.NewKey(key)
	if err != nil {
		return nil, err
	}

	var base uint64
	if e, ok := c.store.Get(k); ok {
		if e.HasData && !e.IsStale(c.clock.Now()) {
			return dedup.Resolved(e.Data, nil), nil
		}
		base = e.Version
	}

	o := buildOptions(opts)
	f := o.fetcher
	if f == nil {
		f = c.fetcher(k)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFetcher, k)
	}

	fut := c.dedup.Fetch(ctx, k, c.mw.Wrap(f))
	fut.Then(func(data any, err error) {
		if err == nil {
			c.store.SetAt(k, data, base)
		}
	})
	return fut, nil
}

// Prefetch fetches keys in parallel and returns the first error. Every
// key needs a registered fetcher.
func (c *Client) Prefetch(ctx context.Context, keys ...any) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		g.Go(func() error {
			_, err := c.Fetch(ctx, key)
			return err
		})
	}
	return g.Wait()
}

// State returns the revalidation state of key.
func (c *Client) State(key any) revalidate.State {
	k, err := cache.NewKey(key)
	if err != nil {
		return revalidate.StateAbsent
	}
	return c.rv.State(k)
}

// OnFocus reports that the application regained focus. Returns the number
// of revalidations started.
func (c *Client) OnFocus() int {
	return c.rv.OnFocus()
}

// OnReconnect reports that connectivity was restored. Returns the number
// of revalidations started.
func (c *Client) OnReconnect() int {
	return c.rv.OnReconnect()
}

// Batch runs fn as one scheduler turn. Notifications caused by writes in
// fn are delivered together after it returns.
func (c *Client) Batch(fn func()) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.sched.Post(fn)
}

// Run drives the scheduler loop until ctx is done, Close is called or the
// loop halts on a fatal error.
func (c *Client) Run(ctx context.Context) error {
	return c.sched.Run(ctx)
}

// RunUntilIdle drives the scheduler loop on the calling goroutine until no
// tasks or work remain.
func (c *Client) RunUntilIdle() error {
	return c.sched.RunUntilIdle()
}

// Close cancels in-flight fetches, drops every subscription and stops the
// scheduler loop. Close is idempotent.
func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.notify.Close()
	for _, k := range c.store.Keys() {
		c.rv.Forget(k)
		c.dedup.Cancel(k)
	}
	c.sched.Stop()
	c.logger.Debug(context.Background(), "client closed")
}

// EntryCounts returns the number of errored entries and of all entries.
func (c *Client) EntryCounts() (errored, total int) {
	for _, k := range c.store.Keys() {
		e, ok := c.store.Get(k)
		if !ok {
			continue
		}
		total++
		if e.Status == cache.StatusError {
			errored++
		}
	}
	return errored, total
}

// Health returns a checker covering the scheduler loop and the share of
// errored entries.
func (c *Client) Health() health.Checker {
	return health.Combine("swrcache",
		health.NewSchedulerChecker(c.sched, 0),
		health.NewErrorRatioChecker(c, health.ErrorRatioConfig{}),
	)
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Stats {
	errored, total := c.EntryCounts()
	return Stats{
		Entries:    total,
		Errored:    errored,
		Scheduler:  c.sched.Metrics(),
		Dedup:      c.dedup.Metrics(),
		Revalidate: c.rv.Metrics(),
		Notify:     c.notify.Metrics(),
	}
}
