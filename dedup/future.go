package dedup

import (
	"context"
	"fmt"
	"sync"
)

// Future is the shared result of one fetch.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Settlement: a Future settles exactly once.
// - Ordering: callbacks registered with Then before settlement run, in
//   registration order, before Done is closed.
type Future struct {
	done chan struct{}

	mu      sync.Mutex
	settled bool
	data    any
	err     error
	thens   []func(any, error)
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Async runs fn on a new goroutine and returns its pending result. A panic
// in fn settles the Future with an error wrapping ErrFetcherPanic.
func Async(ctx context.Context, fn func(context.Context) (any, error)) *Future {
	f := newFuture()
	go func() {
		var (
			data any
			err  error
		)
		defer func() {
			if r := recover(); r != nil {
				data, err = nil, fmt.Errorf("%w: %v", ErrFetcherPanic, r)
			}
			f.resolve(data, err)
		}()
		data, err = fn(ctx)
	}()
	return f
}

// Resolved returns an already settled Future.
func Resolved(data any, err error) *Future {
	f := newFuture()
	f.resolve(data, err)
	return f
}

// Done is closed once the Future has settled and its callbacks have run.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the Future settles or ctx is done. Cancelling ctx stops
// the wait only; the fetch keeps running for other callers.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Settled reports whether the fetch has finished.
func (f *Future) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Result returns the settled value, or (nil, nil) while the fetch is pending.
func (f *Future) Result() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data, f.err
}

// Then registers fn to run with the settled value. If the Future has
// already settled, fn runs immediately on the calling goroutine.
func (f *Future) Then(fn func(data any, err error)) {
	f.mu.Lock()
	if !f.settled {
		f.thens = append(f.thens, fn)
		f.mu.Unlock()
		return
	}
	data, err := f.data, f.err
	f.mu.Unlock()
	fn(data, err)
}

func (f *Future) resolve(data any, err error) {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return
	}
	f.settled = true
	f.data, f.err = data, err
	thens := f.thens
	f.thens = nil
	f.mu.Unlock()

	for _, fn := range thens {
		fn(data, err)
	}
	close(f.done)
}
