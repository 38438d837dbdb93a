package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jonwraymond/swrcache"
	"github.com/jonwraymond/swrcache/health"
)

// ErrNoURLs is returned by New when there is nothing to watch.
var ErrNoURLs = errors.New("watch: no urls")

// Config configures a Watcher.
type Config struct {
	URLs []string

	// Timeout bounds one HTTP request. Zero means no timeout.
	Timeout time.Duration

	// HealthAddr, if set, serves /healthz, /readyz and /health.
	HealthAddr string

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client

	// Breaker configures per-host short-circuiting of failing endpoints.
	Breaker BreakerConfig

	Client swrcache.Config
}

// Event is one observed change of a watched URL.
type Event struct {
	URL        string    `json:"url"`
	Status     string    `json:"status"`
	Version    uint64    `json:"version"`
	Validating bool      `json:"validating,omitempty"`
	FetchedAt  time.Time `json:"fetched_at,omitzero"`
	Data       any       `json:"data,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func newEvent(e swrcache.Entry) Event {
	ev := Event{
		URL:        e.Key.String(),
		Status:     e.Status.String(),
		Version:    e.Version,
		Validating: e.Validating,
		FetchedAt:  e.FetchedAt,
	}
	if e.HasData {
		ev.Data = e.Data
	}
	if e.Err != nil {
		ev.Error = e.Err.Error()
	}
	return ev
}

// Watcher subscribes to a set of URLs and writes their events.
type Watcher struct {
	cfg     Config
	client  *swrcache.Client
	breaker *Breaker
	fetcher swrcache.Fetcher

	mu     sync.Mutex
	enc    *json.Encoder
	unsubs []func()
}

// New creates a Watcher writing events to out.
func New(cfg Config, out io.Writer) (*Watcher, error) {
	if len(cfg.URLs) == 0 {
		return nil, ErrNoURLs
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	clientCfg := cfg.Client
	if clientCfg.RetryIf == nil {
		clientCfg.RetryIf = retryable
	}

	client, err := swrcache.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	breakerCfg := cfg.Breaker
	if breakerCfg.Clock == nil {
		breakerCfg.Clock = clientCfg.Clock
	}
	breaker := NewBreaker(breakerCfg)

	return &Watcher{
		cfg:     cfg,
		client:  client,
		breaker: breaker,
		fetcher: breaker.Wrap(NewHTTPFetcher(httpClient)),
		enc:     json.NewEncoder(out),
	}, nil
}

// retryable skips retries for client errors other than 429 and for
// short-circuited hosts.
func retryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return err != nil
}

// Client returns the underlying cache client.
func (w *Watcher) Client() *swrcache.Client {
	return w.client
}

// Breaker returns the per-host breaker guarding fetches.
func (w *Watcher) Breaker() *Breaker {
	return w.breaker
}

// Start subscribes to every URL.
func (w *Watcher) Start() error {
	for _, url := range w.cfg.URLs {
		unsub, err := w.client.Subscribe(url, swrcache.Normal, w.emit, swrcache.WithFetcher(w.fetcher))
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", url, err)
		}
		w.mu.Lock()
		w.unsubs = append(w.unsubs, unsub)
		w.mu.Unlock()
	}
	return nil
}

func (w *Watcher) emit(e swrcache.Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.enc.Encode(newEvent(e))
}

// Snapshot fetches every URL once (fresh cache hits are reused) and
// returns the events in URL order.
func (w *Watcher) Snapshot(ctx context.Context) ([]Event, error) {
	keys := make([]any, len(w.cfg.URLs))
	for i, url := range w.cfg.URLs {
		if err := w.client.Register(url, w.fetcher); err != nil {
			return nil, err
		}
		keys[i] = url
	}
	if err := w.client.Prefetch(ctx, keys...); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(w.cfg.URLs))
	for _, url := range w.cfg.URLs {
		if e, ok := w.client.Get(url); ok {
			events = append(events, newEvent(e))
		}
	}
	return events, nil
}

// Run subscribes, serves health endpoints if configured, and drives the
// cache until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(); err != nil {
		return err
	}

	stopSignals := w.notifySignals(ctx)
	defer stopSignals()

	var srv *http.Server
	errc := make(chan error, 2)
	if w.cfg.HealthAddr != "" {
		mux := http.NewServeMux()
		health.RegisterHandlers(mux, w.client.Health())
		srv = &http.Server{Addr: w.cfg.HealthAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("health server: %w", err)
			}
		}()
	}

	go func() { errc <- w.client.Run(ctx) }()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	w.Close()
	return err
}

// Close unsubscribes and closes the client.
func (w *Watcher) Close() {
	w.mu.Lock()
	unsubs := w.unsubs
	w.unsubs = nil
	w.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	w.client.Close()
}
