package watch

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/jonwraymond/swrcache"
	"github.com/jonwraymond/swrcache/clock"
)

// ErrCircuitOpen is returned without a request while a host's breaker is open.
var ErrCircuitOpen = errors.New("watch: circuit open")

// BreakerState is the state of one host's breaker.
type BreakerState int

const (
	// BreakerClosed lets requests through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects requests until the cooldown has passed.
	BreakerOpen
	// BreakerHalfOpen lets one trial request through.
	BreakerHalfOpen
)

// String returns the string representation of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that open a host.
	// Default: 5
	MaxFailures int

	// Cooldown is how long an open host rejects requests.
	// Default: 30s
	Cooldown time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock
}

type hostState struct {
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// Breaker tracks consecutive fetch failures per URL host and short-circuits
// fetches to hosts that keep failing. Aborted fetches are not counted.
type Breaker struct {
	cfg BreakerConfig

	mu    sync.Mutex
	hosts map[string]*hostState
}

// NewBreaker creates a Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Breaker{cfg: cfg, hosts: make(map[string]*hostState)}
}

// Wrap guards fn with the breaker of the key's host.
func (b *Breaker) Wrap(fn swrcache.Fetcher) swrcache.Fetcher {
	return func(ctx context.Context, key swrcache.Key) (any, error) {
		host := hostOf(key.String())
		if !b.allow(host) {
			return nil, ErrCircuitOpen
		}
		data, err := fn(ctx, key)
		b.record(host, err)
		return data, err
	}
}

// State returns the breaker state of host.
func (b *Breaker) State(host string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	hs, ok := b.hosts[host]
	if !ok {
		return BreakerClosed
	}
	return b.currentLocked(hs)
}

func (b *Breaker) allow(host string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	hs, ok := b.hosts[host]
	if !ok {
		return true
	}
	switch b.currentLocked(hs) {
	case BreakerOpen:
		return false
	case BreakerHalfOpen:
		if hs.probing {
			return false
		}
		hs.probing = true
	}
	return true
}

func (b *Breaker) record(host string, err error) {
	if errors.Is(err, context.Canceled) {
		b.mu.Lock()
		if hs, ok := b.hosts[host]; ok {
			hs.probing = false
		}
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	hs, ok := b.hosts[host]
	if !ok {
		if err == nil {
			return
		}
		hs = &hostState{}
		b.hosts[host] = hs
	}
	hs.probing = false

	if err == nil {
		delete(b.hosts, host)
		return
	}
	hs.failures++
	if hs.state == BreakerHalfOpen || hs.failures >= b.cfg.MaxFailures {
		hs.state = BreakerOpen
		hs.openedAt = b.cfg.Clock.Now()
	}
}

func (b *Breaker) currentLocked(hs *hostState) BreakerState {
	if hs.state == BreakerOpen && b.cfg.Clock.Now().Sub(hs.openedAt) >= b.cfg.Cooldown {
		hs.state = BreakerHalfOpen
		hs.probing = false
	}
	return hs.state
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
