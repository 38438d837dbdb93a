package watch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonwraymond/swrcache/cache"
)

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept = %q", r.Header.Get("Accept"))
			}
			_, _ = w.Write([]byte(`{"posts":[1,2]}`))
		case "/bad-json":
			_, _ = w.Write([]byte(`{`))
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fetch := NewHTTPFetcher(srv.Client())
	ctx := context.Background()

	data, err := fetch(ctx, cache.MustKey(srv.URL+"/ok"))
	if err != nil {
		t.Fatalf("fetch(/ok) error = %v", err)
	}
	m, ok := data.(map[string]any)
	if !ok || len(m["posts"].([]any)) != 2 {
		t.Errorf("fetch(/ok) = %v, want decoded posts", data)
	}

	if _, err := fetch(ctx, cache.MustKey(srv.URL+"/bad-json")); err == nil {
		t.Error("fetch(/bad-json) error = nil")
	}

	tests := []struct {
		path      string
		code      int
		retryable bool
	}{
		{"/busy", http.StatusServiceUnavailable, true},
		{"/missing", http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := fetch(ctx, cache.MustKey(srv.URL+tt.path))
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("error = %v, want *StatusError", err)
			}
			if se.Code != tt.code {
				t.Errorf("Code = %d, want %d", se.Code, tt.code)
			}
			if se.Retryable() != tt.retryable || retryable(err) != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", se.Retryable(), tt.retryable)
			}
		})
	}
}

func TestHTTPFetcher_Cancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewHTTPFetcher(srv.Client())(ctx, cache.MustKey(srv.URL)); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
