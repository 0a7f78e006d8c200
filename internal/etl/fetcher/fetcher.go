// Package fetcher implements the upstream HTTP client used by service
// extraction. Each fetch is a GET against one endpoint of a service base
// URL, bounded by a per-call timeout.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// ErrFetchFailure is returned when a request fails to reach the upstream,
// either due to a network error or an interrupted body read.
var ErrFetchFailure = errors.New("upstream fetch failed")

// DefaultTimeout bounds a single endpoint fetch.
const DefaultTimeout = 30 * time.Second

// maxBodySize caps how much of an upstream response body is read.
const maxBodySize = 32 << 20 // 32 MiB

// Client fetches raw payloads from upstream services.
type Client struct {
	httpClient *http.Client
}

type options struct {
	timeout time.Duration
}

// Options represents an optional function to override Client default values.
type Options func(*options)

// WithTimeout overrides the per-call timeout.
func WithTimeout(timeout time.Duration) Options {
	return func(o *options) {
		o.timeout = timeout
	}
}

// New creates an upstream fetch client.
func New(args ...Options) Client {
	opts := options{
		timeout: DefaultTimeout,
	}
	for _, opt := range args {
		opt(&opts)
	}

	return Client{
		httpClient: &http.Client{Timeout: opts.timeout},
	}
}

// Fetch requests one endpoint of a service and returns the response status
// code and body. Transport failures return ErrFetchFailure; non-2xx status
// codes are not errors and are left to the caller to interpret.
func (c Client) Fetch(ctx context.Context, baseURL, endpoint string) (int, []byte, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to parse base URL %s: %v", baseURL, err)
	}
	u.Path = path.Join(u.Path, endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, errors.Join(ErrFetchFailure, fmt.Errorf("failed to send HTTP request: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, errors.Join(ErrFetchFailure, fmt.Errorf("failed to read response body: %v", err))
	}

	return resp.StatusCode, body, nil
}
