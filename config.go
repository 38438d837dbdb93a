package swrcache

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/jonwraymond/swrcache/clock"
	"github.com/jonwraymond/swrcache/observe"
	"github.com/jonwraymond/swrcache/revalidate"
	"github.com/jonwraymond/swrcache/scheduler"
)

// Config configures a Client. Start from DefaultConfig; the zero Config
// disables focus and reconnect revalidation and retries.
type Config struct {
	// StaleTime is how long fetched data counts as fresh.
	// Default: 0 (stale immediately)
	StaleTime time.Duration

	// CacheTime is how long an entry without subscribers is kept.
	// Zero means the default; negative evicts on the next timer turn.
	// Default: 5m
	CacheTime time.Duration

	// Retry is the number of retries after a failed fetch.
	// Default: 3
	Retry int

	// RetryDelay returns the wait after failed attempt n (1-based).
	// Default: Backoff.Delay
	RetryDelay func(attempt int) time.Duration

	// Backoff is used when RetryDelay is nil.
	// Default: 1s doubling, capped at 30s
	Backoff revalidate.Backoff

	// RetryIf reports whether an error is retried. Default: every error.
	RetryIf func(err error) bool

	// RevalidateOnFocus revalidates stale observed keys on OnFocus.
	// Default: true
	RevalidateOnFocus bool

	// RevalidateOnReconnect revalidates stale observed keys on OnReconnect.
	// Default: true
	RevalidateOnReconnect bool

	// RefreshInterval polls observed keys. Zero disables polling.
	RefreshInterval time.Duration

	// FocusThrottle is the minimum spacing between honored focus events.
	// Default: 5s
	FocusThrottle time.Duration

	// MaxFlushDepth bounds re-entrant urgent rounds of one scheduler flush.
	// Default: 50
	MaxFlushDepth int

	// TimeSlice bounds one non-urgent pass. Zero means unbounded.
	TimeSlice time.Duration

	// Interrupt selects how preempted passes continue.
	// Default: scheduler.Restart
	Interrupt scheduler.InterruptPolicy

	// LogLevel enables the JSON logger on stderr when Logger is nil and
	// no Observer is set. Empty disables logging.
	LogLevel string

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger overrides the logger derived from Observer or LogLevel.
	Logger observe.Logger

	// Observer, if set, provides tracing, metrics and logging.
	Observer observe.Observer
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		StaleTime:             0,
		CacheTime:             5 * time.Minute,
		Retry:                 3,
		Backoff:               revalidate.DefaultBackoff(),
		RevalidateOnFocus:     true,
		RevalidateOnReconnect: true,
		FocusThrottle:         revalidate.DefaultFocusThrottle,
		MaxFlushDepth:         scheduler.DefaultMaxFlushDepth,
		Interrupt:             scheduler.Restart,
	}
}

// configEnv holds raw env values for client configuration.
type configEnv struct {
	StaleTime             time.Duration `env:"SWR_STALE_TIME"              envDefault:"0s"`
	CacheTime             time.Duration `env:"SWR_CACHE_TIME"              envDefault:"5m"`
	Retry                 int           `env:"SWR_RETRY"                   envDefault:"3"`
	RetryInitialDelay     time.Duration `env:"SWR_RETRY_INITIAL_DELAY"     envDefault:"1s"`
	RetryMaxDelay         time.Duration `env:"SWR_RETRY_MAX_DELAY"         envDefault:"30s"`
	RetryJitter           bool          `env:"SWR_RETRY_JITTER"`
	RevalidateOnFocus     bool          `env:"SWR_REVALIDATE_ON_FOCUS"     envDefault:"true"`
	RevalidateOnReconnect bool          `env:"SWR_REVALIDATE_ON_RECONNECT" envDefault:"true"`
	RefreshInterval       time.Duration `env:"SWR_REFRESH_INTERVAL"        envDefault:"0s"`
	FocusThrottle         time.Duration `env:"SWR_FOCUS_THROTTLE"          envDefault:"5s"`
	MaxFlushDepth         int           `env:"SWR_MAX_FLUSH_DEPTH"         envDefault:"50"`
	TimeSlice             time.Duration `env:"SWR_TIME_SLICE"              envDefault:"0s"`
	Interrupt             string        `env:"SWR_INTERRUPT"               envDefault:"restart"`
	LogLevel              string        `env:"SWR_LOG_LEVEL"`
}

// LoadConfig reads the SWR_* environment variables on top of DefaultConfig
// and validates the result.
func LoadConfig() (Config, error) {
	var raw configEnv
	if err := env.Parse(&raw); err != nil {
		return DefaultConfig(), fmt.Errorf("parse env: %w", err)
	}

	interrupt, err := parseInterrupt(raw.Interrupt)
	if err != nil {
		return DefaultConfig(), err
	}

	cfg := DefaultConfig()
	cfg.StaleTime = raw.StaleTime
	cfg.CacheTime = raw.CacheTime
	cfg.Retry = raw.Retry
	cfg.Backoff.InitialDelay = raw.RetryInitialDelay
	cfg.Backoff.MaxDelay = raw.RetryMaxDelay
	cfg.Backoff.Jitter = raw.RetryJitter
	cfg.RevalidateOnFocus = raw.RevalidateOnFocus
	cfg.RevalidateOnReconnect = raw.RevalidateOnReconnect
	cfg.RefreshInterval = raw.RefreshInterval
	cfg.FocusThrottle = raw.FocusThrottle
	cfg.MaxFlushDepth = raw.MaxFlushDepth
	cfg.TimeSlice = raw.TimeSlice
	cfg.Interrupt = interrupt
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var validLogLevels = map[string]bool{
	"":      true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate validates the configuration.
func (c Config) Validate() error {
	switch {
	case c.StaleTime < 0:
		return invalidConfig("stale time must not be negative, got %s", c.StaleTime)
	case c.Retry < 0:
		return invalidConfig("retry must not be negative, got %d", c.Retry)
	case c.RefreshInterval < 0:
		return invalidConfig("refresh interval must not be negative, got %s", c.RefreshInterval)
	case c.MaxFlushDepth < 0:
		return invalidConfig("max flush depth must not be negative, got %d", c.MaxFlushDepth)
	case c.TimeSlice < 0:
		return invalidConfig("time slice must not be negative, got %s", c.TimeSlice)
	case c.Interrupt != scheduler.Restart && c.Interrupt != scheduler.Resume:
		return invalidConfig("unknown interrupt policy %d", c.Interrupt)
	case !validLogLevels[c.LogLevel]:
		return invalidConfig("unknown log level %q", c.LogLevel)
	}
	return nil
}

func parseInterrupt(s string) (scheduler.InterruptPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "restart", "":
		return scheduler.Restart, nil
	case "resume":
		return scheduler.Resume, nil
	default:
		return scheduler.Restart, invalidConfig("unknown interrupt policy %q", s)
	}
}
