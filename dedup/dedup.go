package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/swrcache/cache"
	"github.com/jonwraymond/swrcache/clock"
)

// Fetcher loads the data for key. ctx is the request's cancel token.
type Fetcher func(ctx context.Context, key cache.Key) (any, error)

// Request describes an in-flight fetch.
type Request struct {
	Key        cache.Key
	StartedAt  time.Time
	RetryCount int
}

// Metrics holds counters for a Deduplicator.
type Metrics struct {
	Started   int64
	Joined    int64
	Cancelled int64
	InFlight  int
}

type attemptKey struct{}

// AttemptFromContext returns the 1-based attempt number of the fetch that
// owns ctx, or 1 if ctx was not created by a Deduplicator.
func AttemptFromContext(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok && n > 0 {
		return n
	}
	return 1
}

type call struct {
	req       Request
	ctx       context.Context
	cancel    context.CancelFunc
	waiters   int
	cancelled bool
}

// Deduplicator keeps one in-flight fetch per key.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Dedup: while a request for key is registered, every Fetch for key
//   joins it and the fetcher is not called again. Each caller gets its own
//   *Future settled with the shared outcome.
// - Ordering: the request is removed from the registry before any Future
//   settles, so a Then callback may start the next fetch for the same key.
type Deduplicator struct {
	group singleflight.Group
	clock clock.Clock

	// mu orders registry changes with group registration: an id is in
	// calls exactly while the group has a call for it.
	mu    sync.Mutex
	calls map[string]*call

	started   atomic.Int64
	joined    atomic.Int64
	cancelled atomic.Int64
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithClock sets the clock used for Request.StartedAt.
func WithClock(c clock.Clock) Option {
	return func(d *Deduplicator) {
		if c != nil {
			d.clock = c
		}
	}
}

// New creates a Deduplicator.
func New(opts ...Option) *Deduplicator {
	d := &Deduplicator{
		clock: clock.Real(),
		calls: make(map[string]*call),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch starts or joins the fetch for key as attempt 1.
func (d *Deduplicator) Fetch(ctx context.Context, key cache.Key, fetcher Fetcher) *Future {
	return d.FetchAttempt(ctx, key, 1, fetcher)
}

// FetchAttempt starts or joins the fetch for key. attempt is recorded on the
// request and exposed to the fetcher through AttemptFromContext. A caller
// that joins an existing request shares its outcome regardless of attempt.
func (d *Deduplicator) FetchAttempt(ctx context.Context, key cache.Key, attempt int, fetcher Fetcher) *Future {
	if key.IsZero() {
		return Resolved(nil, cache.ErrInvalidKey)
	}
	if fetcher == nil {
		return Resolved(nil, ErrNilFetcher)
	}
	if attempt < 1 {
		attempt = 1
	}
	id := key.ID()

	d.mu.Lock()
	c, joined := d.calls[id]
	if !joined {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c = &call{
			req: Request{
				Key:        key,
				StartedAt:  d.clock.Now(),
				RetryCount: attempt - 1,
			},
			ctx:    context.WithValue(fctx, attemptKey{}, attempt),
			cancel: cancel,
		}
		d.calls[id] = c
	}
	c.waiters++
	ch := d.group.DoChan(id, func() (any, error) {
		data, err := run(c.ctx, key, fetcher)
		d.unregister(id, c)
		return data, err
	})
	d.mu.Unlock()

	if joined {
		d.joined.Add(1)
	} else {
		d.started.Add(1)
	}

	f := newFuture()
	go func() {
		f.resolve(d.outcome(c, <-ch))
	}()
	return f
}

// run calls fetcher, converting a panic into an error.
func run(ctx context.Context, key cache.Key, fetcher Fetcher) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("%w: %v", ErrFetcherPanic, r)
		}
	}()
	return fetcher(ctx, key)
}

// unregister removes c from the registry and the group before the group
// delivers its result, so the next Fetch for id starts a new request.
func (d *Deduplicator) unregister(id string, c *call) {
	d.mu.Lock()
	if d.calls[id] == c {
		delete(d.calls, id)
		d.group.Forget(id)
	}
	d.mu.Unlock()
	c.cancel()
}

// outcome maps the fetcher's result to what callers see. Data produced
// after cancellation is still delivered; only a failure is reported as an
// abort once the token was signalled.
func (d *Deduplicator) outcome(c *call, res singleflight.Result) (any, error) {
	if res.Err == nil {
		return res.Val, nil
	}
	d.mu.Lock()
	cancelled := c.cancelled
	d.mu.Unlock()
	if cancelled || errors.Is(res.Err, context.Canceled) {
		return nil, &AbortError{Key: c.req.Key}
	}
	return nil, &NetworkError{Key: c.req.Key, Attempt: c.req.RetryCount + 1, Err: res.Err}
}

// Cancel signals the cancel token of the in-flight request for key,
// regardless of who else joined it. A fetcher that honors the token
// settles every caller with an *AbortError. Returns false if nothing was
// in flight.
func (d *Deduplicator) Cancel(key cache.Key) bool {
	d.mu.Lock()
	c, ok := d.calls[key.ID()]
	if !ok {
		d.mu.Unlock()
		return false
	}
	d.cancelLocked(c)
	d.mu.Unlock()
	c.cancel()
	return true
}

// Release withdraws one caller's interest in the in-flight request for key
// and cancels it once no caller is left. Reports whether the request was
// cancelled.
func (d *Deduplicator) Release(key cache.Key) bool {
	d.mu.Lock()
	c, ok := d.calls[key.ID()]
	if !ok {
		d.mu.Unlock()
		return false
	}
	if c.waiters > 0 {
		c.waiters--
	}
	if c.waiters > 0 || c.cancelled {
		d.mu.Unlock()
		return false
	}
	d.cancelLocked(c)
	d.mu.Unlock()
	c.cancel()
	return true
}

func (d *Deduplicator) cancelLocked(c *call) {
	if !c.cancelled {
		c.cancelled = true
		d.cancelled.Add(1)
	}
}

// InFlight returns the request registered for key.
func (d *Deduplicator) InFlight(key cache.Key) (Request, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.calls[key.ID()]
	if !ok {
		return Request{}, false
	}
	return c.req, true
}

// Len returns the number of in-flight requests.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// Metrics returns a snapshot of the deduplicator counters.
func (d *Deduplicator) Metrics() Metrics {
	return Metrics{
		Started:   d.started.Load(),
		Joined:    d.joined.Load(),
		Cancelled: d.cancelled.Load(),
		InFlight:  d.Len(),
	}
}
