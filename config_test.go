package swrcache

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonwraymond/swrcache/scheduler"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.StaleTime != 0 {
		t.Errorf("StaleTime = %v, want 0", cfg.StaleTime)
	}
	if cfg.CacheTime != 5*time.Minute {
		t.Errorf("CacheTime = %v, want 5m", cfg.CacheTime)
	}
	if cfg.Retry != 3 {
		t.Errorf("Retry = %d, want 3", cfg.Retry)
	}
	if !cfg.RevalidateOnFocus || !cfg.RevalidateOnReconnect {
		t.Error("focus and reconnect revalidation should default to on")
	}
	if cfg.RefreshInterval != 0 {
		t.Errorf("RefreshInterval = %v, want 0", cfg.RefreshInterval)
	}
	if cfg.MaxFlushDepth != 50 {
		t.Errorf("MaxFlushDepth = %d, want 50", cfg.MaxFlushDepth)
	}
	if got := cfg.Backoff.Delay(3); got != 4*time.Second {
		t.Errorf("Backoff.Delay(3) = %v, want 4s", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative stale time", func(c *Config) { c.StaleTime = -time.Second }},
		{"negative retry", func(c *Config) { c.Retry = -1 }},
		{"negative refresh interval", func(c *Config) { c.RefreshInterval = -time.Second }},
		{"negative flush depth", func(c *Config) { c.MaxFlushDepth = -1 }},
		{"negative time slice", func(c *Config) { c.TimeSlice = -time.Millisecond }},
		{"unknown interrupt", func(c *Config) { c.Interrupt = scheduler.InterruptPolicy(7) }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestConfig_ValidateAllowsNegativeCacheTime(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheTime = -1
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	want := DefaultConfig()
	if cfg.CacheTime != want.CacheTime || cfg.Retry != want.Retry || cfg.FocusThrottle != want.FocusThrottle {
		t.Errorf("LoadConfig() = %+v, want defaults", cfg)
	}
	if !cfg.RevalidateOnFocus || !cfg.RevalidateOnReconnect {
		t.Error("focus and reconnect revalidation should default to on")
	}
	if cfg.Interrupt != scheduler.Restart {
		t.Errorf("Interrupt = %v, want restart", cfg.Interrupt)
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("SWR_STALE_TIME", "30s")
	t.Setenv("SWR_CACHE_TIME", "1m")
	t.Setenv("SWR_RETRY", "5")
	t.Setenv("SWR_RETRY_INITIAL_DELAY", "250ms")
	t.Setenv("SWR_REVALIDATE_ON_FOCUS", "false")
	t.Setenv("SWR_REFRESH_INTERVAL", "10s")
	t.Setenv("SWR_MAX_FLUSH_DEPTH", "8")
	t.Setenv("SWR_INTERRUPT", "Resume")
	t.Setenv("SWR_LOG_LEVEL", "DEBUG")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.StaleTime != 30*time.Second {
		t.Errorf("StaleTime = %v, want 30s", cfg.StaleTime)
	}
	if cfg.CacheTime != time.Minute {
		t.Errorf("CacheTime = %v, want 1m", cfg.CacheTime)
	}
	if cfg.Retry != 5 {
		t.Errorf("Retry = %d, want 5", cfg.Retry)
	}
	if cfg.Backoff.InitialDelay != 250*time.Millisecond {
		t.Errorf("Backoff.InitialDelay = %v, want 250ms", cfg.Backoff.InitialDelay)
	}
	if cfg.RevalidateOnFocus {
		t.Error("RevalidateOnFocus = true, want false")
	}
	if !cfg.RevalidateOnReconnect {
		t.Error("RevalidateOnReconnect = false, want true")
	}
	if cfg.RefreshInterval != 10*time.Second {
		t.Errorf("RefreshInterval = %v, want 10s", cfg.RefreshInterval)
	}
	if cfg.MaxFlushDepth != 8 {
		t.Errorf("MaxFlushDepth = %d, want 8", cfg.MaxFlushDepth)
	}
	if cfg.Interrupt != scheduler.Resume {
		t.Errorf("Interrupt = %v, want resume", cfg.Interrupt)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadConfig_ParseError(t *testing.T) {
	t.Setenv("SWR_RETRY", "not-an-int")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"interrupt", "SWR_INTERRUPT", "sometimes"},
		{"retry", "SWR_RETRY", "-2"},
		{"log level", "SWR_LOG_LEVEL", "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadConfig(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("LoadConfig() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
