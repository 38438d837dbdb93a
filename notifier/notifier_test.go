package notifier

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/jonwraymond/swrcache/cache"
	"github.com/jonwraymond/swrcache/clock"
	"github.com/jonwraymond/swrcache/dedup"
	"github.com/jonwraymond/swrcache/revalidate"
	"github.com/jonwraymond/swrcache/scheduler"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	t     *testing.T
	clock *clock.Fake
	store *cache.Store
	sched *scheduler.Scheduler
	n     *Notifier
}

func newHarness(t *testing.T, policy cache.Policy) *harness {
	t.Helper()
	fake := clock.NewFake(epoch)
	h := &harness{
		t:     t,
		clock: fake,
		store: cache.NewStore(policy, cache.WithClock(fake)),
		sched: scheduler.New(scheduler.Config{Clock: fake}),
	}
	n, err := New(Deps{Store: h.store, Scheduler: h.sched})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.n = n
	return h
}

func (h *harness) run() {
	h.t.Helper()
	if err := h.sched.RunUntilIdle(); err != nil {
		h.t.Fatalf("RunUntilIdle() error = %v", err)
	}
}

func (h *harness) subscribe(key cache.Key, p scheduler.Priority, cb Callback) func() {
	h.t.Helper()
	unsub, err := h.n.Subscribe(key, p, cb)
	if err != nil {
		h.t.Fatalf("Subscribe() error = %v", err)
	}
	return unsub
}

// collector records the data of every delivered entry. Callbacks run on the
// goroutine driving the scheduler, which in these tests is the test itself.
type collector struct {
	got []any
}

func (c *collector) cb(e cache.Entry) {
	c.got = append(c.got, e.Data)
}

func TestNew_MissingDependency(t *testing.T) {
	if _, err := New(Deps{}); !errors.Is(err, ErrMissingDependency) {
		t.Errorf("New() error = %v, want ErrMissingDependency", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	h := newHarness(t, cache.DefaultPolicy())
	cb := func(cache.Entry) {}

	if _, err := h.n.Subscribe(cache.Key{}, scheduler.Normal, cb); !errors.Is(err, cache.ErrInvalidKey) {
		t.Errorf("zero key error = %v, want ErrInvalidKey", err)
	}
	if _, err := h.n.Subscribe(cache.MustKey("k"), scheduler.Normal, nil); !errors.Is(err, ErrNilCallback) {
		t.Errorf("nil callback error = %v, want ErrNilCallback", err)
	}
	if _, err := h.n.Subscribe(cache.MustKey("k"), scheduler.Priority(7), cb); !errors.Is(err, scheduler.ErrInvalidPriority) {
		t.Errorf("bad priority error = %v, want ErrInvalidPriority", err)
	}
}

func TestSubscribe_InitialDeliveryOnlyWithData(t *testing.T) {
	h := newHarness(t, cache.DefaultPolicy())
	withData := cache.MustKey("a")
	empty := cache.MustKey("b")
	h.store.Set(withData, "hello")

	var a, b collector
	h.subscribe(withData, scheduler.Normal, a.cb)
	h.subscribe(empty, scheduler.Normal, b.cb)
	h.run()

	if !slices.Equal(a.got, []any{"hello"}) {
		t.Errorf("with data got %v, want [hello]", a.got)
	}
	if len(b.got) != 0 {
		t.Errorf("empty entry got %v, want nothing", b.got)
	}
}

func TestNotify_ChangesInOneTurnAreBatched(t *testing.T) {
	h := newHarness(t, cache.DefaultPolicy())
	key := cache.MustKey("counter")
	var c collector
	h.subscribe(key, scheduler.Normal, c.cb)

	_ = h.sched.Post(func() {
		for i := 1; i <= 5; i++ {
			h.store.Set(key, i)
		}
	})
	h.run()

	if !slices.Equal(c.got, []any{5}) {
		t.Errorf("got %v, want [5]", c.got)
	}
	if got := h.n.Metrics().Delivered; got != 1 {
		t.Errorf("Metrics().Delivered = %d, want 1", got)
	}
}

func TestNotify_PriorityOrder(t *testing.T) {
	h := newHarness(t, cache.DefaultPolicy())
	key := cache.MustKey("k")
	var order []string
	h.subscribe(key, scheduler.Transition, func(cache.Entry) { order = append(order, "transition") })
	h.subscribe(key, scheduler.Normal, func(cache.Entry) { order = append(order, "normal") })
	h.subscribe(key, scheduler.Urgent, func(cache.Entry) { order = append(order, "urgent") })

	h.store.Set(key, 1)
	h.run()

	want := []string{"urgent", "normal", "transition"}
	if !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestNotify_SkipsAlreadySeenEntry(t *testing.T) {
	h := newHarness(t, cache.DefaultPolicy())
	key := cache.MustKey("k")
	var c collector
	h.subscribe(key, scheduler.Normal, c.cb)
	h.store.Set(key, "v1")
	h.run()

	// Replay the same change: nothing new to see.
	e, _ := h.store.Get(key)
	h.n.onChange(cache.Change{Kind: cache.ChangeWrite, Key: key, Entry: e})
	h.run()

	if !slices.Equal(c.got, []any{"v1"}) {
		t.Errorf("got %v, want [v1]", c.got)
	}
	if got := h.n.Metrics().Skipped; got != 1 {
		t.Errorf("Metrics().Skipped = %d, want 1", got)
	}
}

func TestNotify_InvalidateDoesNotNotify(t *testing.T) {
	h := newHarness(t, cache.DefaultPolicy())
	key := cache.MustKey("k")
	h.store.Set(key, "v")
	var c collector
	h.subscribe(key, scheduler.Normal, c.cb)
	h.run()

	h.store.Invalidate(key)
	h.run()

	if len(c.got) != 1 {
		t.Errorf("got %v, want only the initial delivery", c.got)
	}
}

func TestUnsubscribe_StopsDeliveryAndIsIdempotent(t *testing.T) {
	h := newHarness(t, cache.DefaultPolicy())
	key := cache.MustKey("k")
	var c collector
	unsub := h.subscribe(key, scheduler.Normal, c.cb)
	other := h.subscribe(key, scheduler.Normal, func(cache.Entry) {})

	h.store.Set(key, "queued")
	unsub()
	unsub()
	h.run()

	if len(c.got) != 0 {
		t.Errorf("unsubscribed callback got %v", c.got)
	}
	e, _ := h.store.Get(key)
	if e.Subscribers != 1 {
		t.Errorf("Subscribers = %d, want 1", e.Subscribers)
	}
	if got := h.n.Subscribers(key); got != 1 {
		t.Errorf("Notifier.Subscribers() = %d, want 1", got)
	}
	other()
}

func TestGC_EvictsAfterCacheTime(t *testing.T) {
	h := newHarness(t, cache.Policy{CacheTime: time.Minute})
	key := cache.MustKey("k")
	h.store.Set(key, "v")

	unsub := h.subscribe(key, scheduler.Normal, func(cache.Entry) {})
	unsub()

	h.clock.Advance(59 * time.Second)
	h.run()
	if _, ok := h.store.Get(key); !ok {
		t.Fatal("entry evicted before CacheTime")
	}

	h.clock.Advance(time.Second)
	h.run()
	if _, ok := h.store.Get(key); ok {
		t.Error("entry not evicted after CacheTime")
	}
	if got := h.n.Metrics().Evicted; got != 1 {
		t.Errorf("Metrics().Evicted = %d, want 1", got)
	}
}

func TestGC_ResubscribeDisarms(t *testing.T) {
	h := newHarness(t, cache.Policy{CacheTime: time.Minute})
	key := cache.MustKey("k")
	h.store.Set(key, "v")

	h.subscribe(key, scheduler.Normal, func(cache.Entry) {})()
	h.clock.Advance(30 * time.Second)
	unsub := h.subscribe(key, scheduler.Normal, func(cache.Entry) {})

	h.clock.Advance(time.Minute)
	h.run()
	if _, ok := h.store.Get(key); !ok {
		t.Fatal("observed entry evicted")
	}

	unsub()
	h.clock.Advance(time.Minute)
	h.run()
	if _, ok := h.store.Get(key); ok {
		t.Error("entry not evicted after the second unsubscribe")
	}
}

func TestSubscribe_DrivesRevalidation(t *testing.T) {
	h := newHarness(t, cache.DefaultPolicy())
	h.n.Close()

	dd := dedup.New(dedup.WithClock(h.clock))
	rv, err := revalidate.New(revalidate.DefaultConfig(), revalidate.Deps{Store: h.store, Dedup: dd, Scheduler: h.sched})
	if err != nil {
		t.Fatalf("revalidate.New() error = %v", err)
	}
	n, err := New(Deps{Store: h.store, Scheduler: h.sched, Revalidator: rv})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	key := cache.MustKey("user", 1)
	release := make(chan struct{})
	if err := rv.Track(key, func(context.Context, cache.Key) (any, error) {
		<-release
		return "ada", nil
	}); err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	var statuses []cache.Status
	unsub, err := n.Subscribe(key, scheduler.Normal, func(e cache.Entry) { statuses = append(statuses, e.Status) })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	h.run()
	close(release)
	if f := rv.Pending(key); f != nil {
		if _, err := f.Wait(context.Background()); err != nil {
			t.Fatalf("fetch error = %v", err)
		}
	}
	h.run()

	want := []cache.Status{cache.StatusLoading, cache.StatusSuccess}
	if !slices.Equal(statuses, want) {
		t.Errorf("statuses = %v, want %v", statuses, want)
	}

	unsub()
	if got := rv.State(key); got != revalidate.StateFresh && got != revalidate.StateStale {
		t.Errorf("State() after unsubscribe = %v", got)
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t, cache.DefaultPolicy())
	key := cache.MustKey("k")
	var c collector
	h.subscribe(key, scheduler.Normal, c.cb)

	h.n.Close()
	h.n.Close()
	h.store.Set(key, "after close")
	h.run()

	if len(c.got) != 0 {
		t.Errorf("got %v after Close", c.got)
	}
	if _, err := h.n.Subscribe(key, scheduler.Normal, c.cb); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe() after Close error = %v, want ErrClosed", err)
	}
}
