// Package netx provides the outbound HTTP client used for anchor, routing
// service, and backend calls. Retries with exponential backoff cover
// transport errors and 5xx responses; 4xx responses are returned to the
// caller untouched. A small circuit breaker stops hammering a service that
// is down.
package netx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ramp/internal/ramperr"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 3
	defaultBackoff      = 1 * time.Second
	defaultFailureLimit = 5
	defaultResetTimeout = 60 * time.Second
)

// Client is an HTTP client with retry, timeout, and circuit breaker support.
type Client struct {
	httpClient   *http.Client
	maxRetries   int
	retryBackoff time.Duration
	breaker      *circuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithRetryBackoff sets the base duration for exponential backoff.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Client) { c.retryBackoff = d }
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts ...Option) *Client {
	client := &Client{
		httpClient:   &http.Client{Timeout: defaultTimeout},
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultBackoff,
		breaker: &circuitBreaker{
			failureLimit: defaultFailureLimit,
			resetTimeout: defaultResetTimeout,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Get performs a GET request with retry and circuit breaker logic.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, ramperr.Transient(ramperr.NetworkError, "failed to create GET request", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

// PostJSON performs a POST request with a JSON body.
func (c *Client) PostJSON(ctx context.Context, url string, body []byte, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, ramperr.Transient(ramperr.NetworkError, "failed to create POST request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

// PostForm performs a POST request with url-encoded form data.
func (c *Client) PostForm(ctx context.Context, urlStr string, data url.Values, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, ramperr.Transient(ramperr.NetworkError, "failed to create POST form request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if !c.breaker.allowRequest() {
		return nil, ramperr.Transient(ramperr.NetworkError, "circuit breaker is open", nil)
	}

	// Buffer the request body so it can be replayed on retries.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, ramperr.Transient(ramperr.NetworkError, "failed to read request body", err)
		}
		req.Body.Close()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < c.maxRetries {
				if err := c.backoff(req.Context(), attempt); err != nil {
					return nil, ramperr.Transient(ramperr.NetworkError, "request cancelled", err)
				}
				continue
			}
			c.breaker.recordFailure()
			return nil, ramperr.Transient(ramperr.NetworkError,
				fmt.Sprintf("request failed after %d attempts", attempt+1), err)
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %s", resp.Status)
			if attempt < c.maxRetries {
				if err := c.backoff(req.Context(), attempt); err != nil {
					return nil, ramperr.Transient(ramperr.NetworkError, "request cancelled", err)
				}
				continue
			}
			c.breaker.recordFailure()
			return nil, ramperr.Transient(ramperr.NetworkError,
				fmt.Sprintf("server error after %d attempts: %s", attempt+1, resp.Status), lastErr)
		}

		// 4xx is the caller's problem to interpret; don't retry.
		c.breaker.recordSuccess()
		return resp, nil
	}

	return nil, ramperr.Transient(ramperr.NetworkError, "unexpected retry exhaustion", lastErr)
}

func (c *Client) backoff(ctx context.Context, attempt int) error {
	duration := c.retryBackoff * (1 << uint(attempt))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(duration):
		return nil
	}
}

type circuitBreaker struct {
	mu           sync.RWMutex
	failures     int
	lastFailTime time.Time
	failureLimit int
	resetTimeout time.Duration
	open         bool
}

func (cb *circuitBreaker) allowRequest() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	if !cb.open {
		return true
	}
	return time.Since(cb.lastFailTime) > cb.resetTimeout
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.open = false
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailTime = time.Now()
	if cb.failures >= cb.failureLimit {
		cb.open = true
	}
}
