package notifier

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jonwraymond/swrcache/cache"
	"github.com/jonwraymond/swrcache/clock"
	"github.com/jonwraymond/swrcache/observe"
	"github.com/jonwraymond/swrcache/revalidate"
	"github.com/jonwraymond/swrcache/scheduler"
)

// Callback receives the entry as it is when the notification runs.
type Callback func(cache.Entry)

// Subscription is one registered observer of a key.
type Subscription struct {
	ID       uuid.UUID
	Key      cache.Key
	Priority scheduler.Priority

	cb     Callback
	active atomic.Bool

	// Written only on the scheduler loop.
	delivered   bool
	lastVersion uint64
	lastSeq     uint64
}

// Deps are the collaborators of a Notifier.
type Deps struct {
	Store     *cache.Store
	Scheduler *scheduler.Scheduler

	// Revalidator, if set, is attached on the first subscriber of a key
	// and detached when the last one leaves.
	Revalidator *revalidate.Revalidator

	// Clock defaults to the store's clock.
	Clock clock.Clock
	// Logger defaults to observe.NopLogger().
	Logger observe.Logger
	// Metrics defaults to observe.NopMetrics().
	Metrics observe.Metrics
}

// Metrics holds counters for a Notifier.
type Metrics struct {
	Delivered     uint64
	Skipped       uint64
	Subscriptions int
	Evicted       uint64
}

// Notifier fans store changes out to subscribers.
//
// Contract:
//   - Concurrency: Subscribe and unsubscribe are safe from any goroutine.
//     Callbacks run on the scheduler loop.
//   - Ordering: a callback never observes an older entry than one it
//     already received.
//   - Ownership: unsubscribe is idempotent.
type Notifier struct {
	store   *cache.Store
	sched   *scheduler.Scheduler
	rv      *revalidate.Revalidator
	clock   clock.Clock
	logger  observe.Logger
	metrics observe.Metrics

	mu       sync.Mutex
	subs     map[string]map[uuid.UUID]*Subscription
	gcTimers map[string]*gcTimer
	closed   bool
	unlisten func()

	delivered atomic.Uint64
	skipped   atomic.Uint64
	evicted   atomic.Uint64
}

// New creates a Notifier and starts listening to the store.
func New(deps Deps) (*Notifier, error) {
	if deps.Store == nil || deps.Scheduler == nil {
		return nil, ErrMissingDependency
	}
	if deps.Clock == nil {
		deps.Clock = deps.Store.Clock()
	}
	if deps.Logger == nil {
		deps.Logger = observe.NopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.NopMetrics()
	}

	n := &Notifier{
		store:    deps.Store,
		sched:    deps.Scheduler,
		rv:       deps.Revalidator,
		clock:    deps.Clock,
		logger:   deps.Logger.With(observe.F("component", "notifier")),
		metrics:  deps.Metrics,
		subs:     make(map[string]map[uuid.UUID]*Subscription),
		gcTimers: make(map[string]*gcTimer),
	}
	n.unlisten = n.store.Listen(n.onChange)
	return n, nil
}

// Subscribe registers cb for changes to key at priority p. If the entry
// already holds data, cb receives it in the next flush. The returned
// function removes the subscription; calling it more than once is a no-op.
func (n *Notifier) Subscribe(key cache.Key, p scheduler.Priority, cb Callback) (unsubscribe func(), err error) {
	if key.IsZero() {
		return nil, cache.ErrInvalidKey
	}
	if cb == nil {
		return nil, ErrNilCallback
	}
	if !p.Valid() {
		return nil, scheduler.ErrInvalidPriority
	}

	sub := &Subscription{ID: uuid.New(), Key: key, Priority: p, cb: cb}
	sub.active.Store(true)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	set, ok := n.subs[key.ID()]
	if !ok {
		set = make(map[uuid.UUID]*Subscription)
		n.subs[key.ID()] = set
	}
	set[sub.ID] = sub
	if gc, ok := n.gcTimers[key.ID()]; ok {
		gc.timer.Stop()
		delete(n.gcTimers, key.ID())
	}
	n.mu.Unlock()

	n.store.AddSubscriber(key)
	if e, ok := n.store.Get(key); ok && e.HasData {
		n.schedule(sub)
	}
	if n.rv != nil {
		n.rv.Attach(key)
	}

	var once sync.Once
	return func() { once.Do(func() { n.unsubscribe(sub) }) }, nil
}

func (n *Notifier) unsubscribe(sub *Subscription) {
	sub.active.Store(false)
	id := sub.Key.ID()

	n.mu.Lock()
	set := n.subs[id]
	delete(set, sub.ID)
	if len(set) == 0 {
		delete(n.subs, id)
	}
	n.mu.Unlock()

	if n.store.RemoveSubscriber(sub.Key) > 0 {
		return
	}
	if n.rv != nil {
		n.rv.Detach(sub.Key)
	}
	n.armGC(sub.Key)
}

// gcTimer identifies one armed eviction; a stale callback finds a
// different pointer in the map and does nothing.
type gcTimer struct {
	timer clock.Timer
}

// armGC schedules eviction of key after the policy's CacheTime.
func (n *Notifier) armGC(key cache.Key) {
	id := key.ID()
	retain := n.store.Policy().RetainFor()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || len(n.subs[id]) > 0 {
		return
	}
	if gc, ok := n.gcTimers[id]; ok {
		gc.timer.Stop()
	}
	gc := &gcTimer{}
	gc.timer = n.clock.AfterFunc(retain, func() {
		_ = n.sched.Post(func() { n.collect(key, gc) })
	})
	n.gcTimers[id] = gc
}

// collect evicts key if it is still unobserved and gc is still current.
func (n *Notifier) collect(key cache.Key, gc *gcTimer) {
	id := key.ID()

	n.mu.Lock()
	if n.gcTimers[id] != gc || len(n.subs[id]) > 0 {
		n.mu.Unlock()
		return
	}
	delete(n.gcTimers, id)
	n.mu.Unlock()

	if err := n.store.Evict(key); err != nil {
		n.logger.Debug(context.Background(), "eviction skipped", observe.F("key", id), observe.F("error", err))
		return
	}
	if n.rv != nil {
		n.rv.Forget(key)
	}
	n.evicted.Add(1)
	n.logger.Debug(context.Background(), "entry evicted", observe.F("key", id))
}

func (n *Notifier) onChange(ch cache.Change) {
	switch ch.Kind {
	case cache.ChangeEvict, cache.ChangeInvalidate:
		// Neither changes what subscribers can see.
		return
	}

	n.mu.Lock()
	set := n.subs[ch.Key.ID()]
	subs := make([]*Subscription, 0, len(set))
	for _, sub := range set {
		subs = append(subs, sub)
	}
	n.mu.Unlock()

	for _, sub := range subs {
		n.schedule(sub)
	}
}

func (n *Notifier) schedule(sub *Subscription) {
	_, err := n.sched.Schedule(sub.Priority, "notify:"+sub.ID.String(), func(ctx context.Context) {
		n.deliver(ctx, sub)
	})
	if err != nil {
		n.logger.Warn(context.Background(), "notification dropped", observe.F("key", sub.Key.ID()), observe.F("error", err))
	}
}

// deliver runs on the scheduler loop.
func (n *Notifier) deliver(ctx context.Context, sub *Subscription) {
	if !sub.active.Load() {
		return
	}
	e, ok := n.store.Get(sub.Key)
	if !ok {
		return
	}
	if sub.delivered && e.Version == sub.lastVersion && e.Seq == sub.lastSeq {
		n.skipped.Add(1)
		n.metrics.RecordNotify(ctx, sub.Priority.String(), true)
		return
	}
	sub.delivered = true
	sub.lastVersion, sub.lastSeq = e.Version, e.Seq

	n.delivered.Add(1)
	n.metrics.RecordNotify(ctx, sub.Priority.String(), false)
	sub.cb(e)
}

// Subscribers returns the number of subscriptions for key.
func (n *Notifier) Subscribers(key cache.Key) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[key.ID()])
}

// Metrics returns a snapshot of the notifier counters.
func (n *Notifier) Metrics() Metrics {
	n.mu.Lock()
	total := 0
	for _, set := range n.subs {
		total += len(set)
	}
	n.mu.Unlock()

	return Metrics{
		Delivered:     n.delivered.Load(),
		Skipped:       n.skipped.Load(),
		Subscriptions: total,
		Evicted:       n.evicted.Load(),
	}
}

// Close stops listening to the store and disarms every GC timer. Existing
// subscriptions receive no further notifications.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	n.unlisten()
	for id, gc := range n.gcTimers {
		gc.timer.Stop()
		delete(n.gcTimers, id)
	}
	for _, set := range n.subs {
		for _, sub := range set {
			sub.active.Store(false)
		}
	}
}
