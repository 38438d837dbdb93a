package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/swrcache/clock"
	"github.com/jonwraymond/swrcache/observe"
)

// DefaultMaxFlushDepth is the default bound on rounds in one flush.
const DefaultMaxFlushDepth = 50

// Config configures a Scheduler.
type Config struct {
	// MaxFlushDepth bounds consecutive urgent rounds in one flush; going
	// past it is fatal. It also bounds non-urgent passes per turn, after
	// which the rest waits for the next turn. Default: 50.
	MaxFlushDepth int

	// TimeSlice bounds one non-urgent pass. When it runs out at a yield
	// point the remaining items are re-queued and the loop takes its next
	// turn. Zero means unbounded.
	TimeSlice time.Duration

	// Interrupt selects what happens to a pass preempted by urgent work.
	// Default: Restart.
	Interrupt InterruptPolicy

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to observe.NopLogger().
	Logger observe.Logger

	// Metrics defaults to observe.NopMetrics().
	Metrics observe.Metrics
}

// Metrics holds counters for a Scheduler.
type Metrics struct {
	Turns       uint64
	Flushes     uint64
	Executed    uint64
	Collapsed   uint64
	Preemptions uint64
	Restarts    uint64
	TimeSlices  uint64
	Panics      uint64
	Pending     int
}

// Scheduler is a single-goroutine event loop with prioritized work queues.
//
// Contract:
//   - Concurrency: Post, Enqueue, Schedule, Turn, Pending and Metrics are safe
//     from any goroutine. Work and tasks run on the goroutine driving Run or
//     RunUntilIdle; only one may drive the loop at a time.
//   - Ordering: tasks run in post order, one per turn; queued work is flushed
//     after each turn.
//   - Errors: panics in tasks and work are recovered and logged. Only a
//     flush depth violation is fatal.
type Scheduler struct {
	cfg     Config
	clock   clock.Clock
	logger  observe.Logger
	metrics observe.Metrics

	mu      sync.Mutex
	tasks   []func()
	queues  [numPriorities][]*Work
	batches map[string]*Work
	nextID  uint64
	stopped bool
	fatal   error

	wake    chan struct{}
	quit    chan struct{}
	running atomic.Bool
	turn    atomic.Uint64

	stats struct {
		flushes, executed, collapsed atomic.Uint64
		preemptions, restarts        atomic.Uint64
		timeSlices, panics           atomic.Uint64
	}
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.MaxFlushDepth <= 0 {
		cfg.MaxFlushDepth = DefaultMaxFlushDepth
	}
	if cfg.TimeSlice < 0 {
		cfg.TimeSlice = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.NopMetrics()
	}

	return &Scheduler{
		cfg:     cfg,
		clock:   cfg.Clock,
		logger:  cfg.Logger.With(observe.F("component", "scheduler")),
		metrics: cfg.Metrics,
		batches: make(map[string]*Work),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
}

// Post queues task to run as its own turn.
func (s *Scheduler) Post(task func()) error {
	if task == nil {
		return nil
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()
	s.signal()
	return nil
}

// Schedule is shorthand for Enqueue(&Work{Priority: p, BatchKey: batchKey, Run: run}).
func (s *Scheduler) Schedule(p Priority, batchKey string, run func(ctx context.Context)) (*Work, error) {
	return s.Enqueue(&Work{Priority: p, BatchKey: batchKey, Run: run})
}

// Enqueue queues w for the next flush and returns the work item that will
// run. When queued work with the same BatchKey exists, that item is returned
// with its Run replaced by w.Run and its priority raised if w is more urgent.
func (s *Scheduler) Enqueue(w *Work) (*Work, error) {
	if w == nil || w.Run == nil {
		return nil, ErrNilWork
	}
	if !w.Priority.Valid() {
		w.Priority = Normal
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}

	if w.BatchKey != "" {
		if queued, ok := s.batches[w.BatchKey]; ok && !queued.Cancelled() {
			queued.Run = w.Run
			if w.Priority < queued.Priority {
				s.removeLocked(queued)
				queued.Priority = w.Priority
				s.queues[queued.Priority] = append(s.queues[queued.Priority], queued)
			}
			s.mu.Unlock()
			s.stats.collapsed.Add(1)
			return queued, nil
		}
	}

	s.nextID++
	w.ID = s.nextID
	w.EnqueuedAt = s.clock.Now()
	s.queues[w.Priority] = append(s.queues[w.Priority], w)
	if w.BatchKey != "" {
		s.batches[w.BatchKey] = w
	}
	s.mu.Unlock()
	s.signal()
	return w, nil
}

// Turn returns the number of turns the loop has started.
func (s *Scheduler) Turn() uint64 {
	return s.turn.Load()
}

// Pending returns the number of queued work items.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

// Err returns the fatal error that stopped the scheduler, if any.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Metrics returns a snapshot of the scheduler counters.
func (s *Scheduler) Metrics() Metrics {
	return Metrics{
		Turns:       s.turn.Load(),
		Flushes:     s.stats.flushes.Load(),
		Executed:    s.stats.executed.Load(),
		Collapsed:   s.stats.collapsed.Load(),
		Preemptions: s.stats.preemptions.Load(),
		Restarts:    s.stats.restarts.Load(),
		TimeSlices:  s.stats.timeSlices.Load(),
		Panics:      s.stats.panics.Load(),
		Pending:     s.Pending(),
	}
}

// Stop stops the loop. Queued tasks and work are discarded. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.stopped {
		return
	}
	s.stopped = true
	s.tasks = nil
	for i := range s.queues {
		s.queues[i] = nil
	}
	clear(s.batches)
	close(s.quit)
}

// Run drives the loop until ctx is done, Stop is called or a fatal error
// occurs. It returns nil after Stop, ctx.Err() on cancellation and the fatal
// error otherwise.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	for {
		ran, err := s.step(ctx)
		if err != nil {
			return err
		}
		if ran {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.quit:
			return s.Err()
		case <-s.wake:
		}
	}
}

// RunUntilIdle drives the loop on the calling goroutine until no tasks or
// work remain. A stopped scheduler is idle; after a fatal error RunUntilIdle
// returns that error.
func (s *Scheduler) RunUntilIdle() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	for {
		ran, err := s.step(context.Background())
		if err != nil {
			return err
		}
		if !ran {
			return nil
		}
	}
}

// step runs one turn. It reports false when there was nothing to do.
func (s *Scheduler) step(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.stopped {
		fatal := s.fatal
		s.mu.Unlock()
		return false, fatal
	}
	var task func()
	if len(s.tasks) > 0 {
		task = s.tasks[0]
		s.tasks[0] = nil
		s.tasks = s.tasks[1:]
	}
	pending := s.pendingLocked()
	s.mu.Unlock()

	if task == nil && !pending {
		return false, nil
	}

	s.turn.Add(1)
	if task != nil {
		s.runTask(ctx, task)
	}
	return true, s.flush(ctx)
}

func (s *Scheduler) runTask(ctx context.Context, task func()) {
	defer func() {
		if r := recover(); r != nil {
			s.stats.panics.Add(1)
			s.logger.Error(ctx, "task panicked", observe.F("panic", fmt.Sprint(r)), observe.F("turn", s.Turn()))
		}
	}()
	task()
}

// flush drains queued work in priority order. Urgent rounds that keep
// scheduling urgent work count toward MaxFlushDepth; a non-urgent pass ends
// such a chain. Non-urgent passes are bounded by the same limit but only
// hand their remaining work to the next turn.
func (s *Scheduler) flush(ctx context.Context) error {
	start := s.clock.Now()
	executed := 0
	depth := 0
	passes := 0
	defer func() {
		if executed > 0 {
			s.stats.flushes.Add(1)
			s.metrics.RecordFlush(ctx, executed, s.clock.Now().Sub(start))
		}
	}()

	for {
		if s.urgentPending() {
			depth++
			if err := s.checkDepth(ctx, depth); err != nil {
				return err
			}
			for _, w := range s.take(Urgent) {
				if s.exec(ctx, w, nil) {
					executed++
				}
			}
			continue
		}

		if passes >= s.cfg.MaxFlushDepth {
			return nil
		}
		pass := s.takeNonUrgent()
		if len(pass) == 0 {
			return nil
		}
		passes++
		depth = 0

		n, yieldToLoop := s.runPass(ctx, pass)
		executed += n
		if yieldToLoop {
			return nil
		}
	}
}

// runPass runs one non-urgent pass. It returns the number of executed items
// and whether the flush should end so the loop can take another turn.
func (s *Scheduler) runPass(ctx context.Context, pass []*Work) (int, bool) {
	executed := 0
	passStart := s.clock.Now()

	for i, w := range pass {
		if i > 0 {
			if s.urgentPending() {
				s.preempt(ctx, pass, i)
				return executed, false
			}
			if s.sliceExpired(passStart) {
				s.stats.timeSlices.Add(1)
				s.requeue(pass[i:])
				return executed, true
			}
		}

		st := &execState{s: s, passStart: passStart}
		if s.exec(ctx, w, st) {
			executed++
		}
		if st.yielded {
			// The item gave up partway through and counts as not completed.
			if s.urgentPending() {
				s.preempt(ctx, pass, i)
				return executed, false
			}
			s.stats.timeSlices.Add(1)
			s.requeue(pass[i:])
			return executed, true
		}
	}
	return executed, false
}

// preempt re-queues an interrupted pass; next is the first item that did not
// complete.
func (s *Scheduler) preempt(ctx context.Context, pass []*Work, next int) {
	s.stats.preemptions.Add(1)
	s.metrics.RecordPreemption(ctx, s.cfg.Interrupt.String())
	s.logger.Debug(ctx, "pass preempted by urgent work",
		observe.F("policy", s.cfg.Interrupt.String()),
		observe.F("completed", next),
		observe.F("remaining", len(pass)-next),
	)

	if s.cfg.Interrupt == Resume {
		s.requeue(pass[next:])
		return
	}
	s.stats.restarts.Add(1)
	s.requeue(pass)
}

func (s *Scheduler) checkDepth(ctx context.Context, depth int) error {
	if depth <= s.cfg.MaxFlushDepth {
		return nil
	}
	err := &FlushDepthExceededError{Depth: depth, Limit: s.cfg.MaxFlushDepth, Turn: s.Turn()}
	s.logger.Error(ctx, "flush depth exceeded, stopping scheduler", observe.F("error", err))

	s.mu.Lock()
	s.fatal = err
	s.stopLocked()
	s.mu.Unlock()
	return err
}

// exec runs w and reports whether it ran. st is nil for urgent work.
func (s *Scheduler) exec(ctx context.Context, w *Work, st *execState) (ran bool) {
	if w.Cancelled() || w.Run == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			s.stats.panics.Add(1)
			s.logger.Error(ctx, "work panicked",
				observe.F("panic", fmt.Sprint(r)),
				observe.F("work_id", w.ID),
				observe.F("priority", w.Priority.String()),
			)
		}
	}()

	s.stats.executed.Add(1)
	if st != nil {
		ctx = context.WithValue(ctx, execKey{}, st)
	}
	w.Run(ctx)
	return true
}

func (s *Scheduler) urgentPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[Urgent]) > 0
}

func (s *Scheduler) sliceExpired(passStart time.Time) bool {
	return s.cfg.TimeSlice > 0 && s.clock.Now().Sub(passStart) >= s.cfg.TimeSlice
}

func (s *Scheduler) pendingLocked() bool {
	for _, q := range s.queues {
		if len(q) > 0 {
			return true
		}
	}
	return false
}

// take dequeues every item queued at p.
func (s *Scheduler) take(p Priority) []*Work {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takeLocked(p)
}

// takeNonUrgent dequeues the most urgent non-empty non-urgent level.
func (s *Scheduler) takeNonUrgent() []*Work {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := Normal; p <= Transition; p++ {
		if len(s.queues[p]) > 0 {
			return s.takeLocked(p)
		}
	}
	return nil
}

func (s *Scheduler) takeLocked(p Priority) []*Work {
	items := s.queues[p]
	s.queues[p] = nil
	for _, w := range items {
		if w.BatchKey != "" && s.batches[w.BatchKey] == w {
			delete(s.batches, w.BatchKey)
		}
	}
	return items
}

// requeue puts items back at the front of their queues. An item whose batch
// key was enqueued again in the meantime is dropped in favour of the newer one.
func (s *Scheduler) requeue(items []*Work) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	var front [numPriorities][]*Work
	for _, w := range items {
		if w.Cancelled() {
			continue
		}
		if w.BatchKey != "" {
			if _, ok := s.batches[w.BatchKey]; ok {
				continue
			}
			s.batches[w.BatchKey] = w
		}
		front[w.Priority] = append(front[w.Priority], w)
	}
	for p := range front {
		if len(front[p]) > 0 {
			s.queues[p] = append(front[p], s.queues[p]...)
		}
	}
}

func (s *Scheduler) removeLocked(w *Work) {
	q := s.queues[w.Priority]
	if i := slices.Index(q, w); i >= 0 {
		s.queues[w.Priority] = slices.Delete(q, i, i+1)
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
