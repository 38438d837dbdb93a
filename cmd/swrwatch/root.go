package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jonwraymond/swrcache"
	"github.com/jonwraymond/swrcache/internal/watch"
	"github.com/jonwraymond/swrcache/observe"
)

// version is set at build time.
var version = "dev"

// flags holds command-line overrides for the environment configuration.
type flags struct {
	interval   time.Duration
	staleTime  time.Duration
	retry      int
	timeout    time.Duration
	healthAddr string
	logLevel   string
	traces     string
	metrics    string
}

func (f *flags) register(fs *pflag.FlagSet) {
	fs.DurationVar(&f.interval, "interval", 0, "poll interval (0 disables polling; env SWR_REFRESH_INTERVAL)")
	fs.DurationVar(&f.staleTime, "stale-time", 0, "how long fetched data counts as fresh (env SWR_STALE_TIME)")
	fs.IntVar(&f.retry, "retry", 3, "retries after a failed fetch (env SWR_RETRY)")
	fs.DurationVar(&f.timeout, "timeout", 10*time.Second, "HTTP request timeout")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (env SWR_LOG_LEVEL)")
	fs.StringVar(&f.traces, "trace-exporter", "", "export fetch spans: otlp, jaeger or stdout")
	fs.StringVar(&f.metrics, "metrics-exporter", "", "export cache metrics: otlp, prometheus or stdout")
}

// config loads the environment configuration and applies the flags that
// were set explicitly.
func (f *flags) config(ctx context.Context, fs *pflag.FlagSet, urls []string) (watch.Config, error) {
	cfg, err := swrcache.LoadConfig()
	if err != nil {
		return watch.Config{}, err
	}
	if fs.Changed("interval") {
		cfg.RefreshInterval = f.interval
	}
	if fs.Changed("stale-time") {
		cfg.StaleTime = f.staleTime
	}
	if fs.Changed("retry") {
		cfg.Retry = f.retry
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return watch.Config{}, err
	}
	obs, err := f.observer(ctx)
	if err != nil {
		return watch.Config{}, err
	}
	cfg.Observer = obs

	return watch.Config{
		URLs:       urls,
		Timeout:    f.timeout,
		HealthAddr: f.healthAddr,
		Client:     cfg,
	}, nil
}

// observer returns nil unless an exporter was requested.
func (f *flags) observer(ctx context.Context) (observe.Observer, error) {
	if f.traces == "" && f.metrics == "" {
		return nil, nil
	}
	return observe.NewObserver(ctx, observe.Config{
		ServiceName:     "swrwatch",
		Version:         version,
		TraceExporter:   f.traces,
		SampleRatio:     1,
		MetricsExporter: f.metrics,
		LogLevel:        f.logLevel,
	})
}

// shutdown flushes the exporters of an observer created by flags.observer.
func shutdown(obs observe.Observer) {
	if obs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = obs.Shutdown(ctx)
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "swrwatch URL...",
		Short: "Watch JSON endpoints through a stale-while-revalidate cache",
		Long: `swrwatch subscribes to each URL and prints one JSON line per observed
change. Send SIGUSR1 to revalidate stale endpoints as on window focus and
SIGUSR2 as on network reconnect.`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config(cmd.Context(), cmd.Flags(), args)
			if err != nil {
				return err
			}
			defer shutdown(cfg.Client.Observer)
			w, err := watch.New(cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return w.Run(cmd.Context())
		},
	}
	f.register(cmd.Flags())
	cmd.Flags().StringVar(&f.healthAddr, "health-addr", "", "serve health endpoints on this address")

	cmd.AddCommand(newGetCmd())
	return cmd
}

func newGetCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "get URL...",
		Short: "Fetch each URL once and print the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config(cmd.Context(), cmd.Flags(), args)
			if err != nil {
				return err
			}
			defer shutdown(cfg.Client.Observer)
			w, err := watch.New(cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer w.Close()

			events, err := w.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, ev := range events {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
	f.register(cmd.Flags())
	return cmd
}
