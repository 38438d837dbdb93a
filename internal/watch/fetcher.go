package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jonwraymond/swrcache"
)

// maxBody bounds the bytes read from one response.
const maxBody = 8 << 20

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// NewHTTPFetcher returns a fetcher that GETs the key's URL and decodes the
// body as JSON. The fetch context cancels the request.
func NewHTTPFetcher(client *http.Client) swrcache.Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, key swrcache.Key) (any, error) {
		url := key.String()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
			return nil, &StatusError{URL: url, Code: resp.StatusCode}
		}

		var data any
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", url, err)
		}
		return data, nil
	}
}
