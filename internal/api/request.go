package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
)

// APIError represents an HTTP error response from the fleet API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fleet api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true for server-side failures.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// NetworkError is a request that never produced a response.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a network failure or a 5xx response.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return false
}

// RequestOption adjusts a single request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	query  url.Values
	header http.Header
}

// WithQuery adds a query parameter.
func WithQuery(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.query == nil {
			o.query = url.Values{}
		}
		o.query.Add(key, value)
	}
}

// WithRequestHeader sets a header on this request only.
func WithRequestHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.header == nil {
			o.header = make(http.Header)
		}
		o.header.Set(key, value)
	}
}

// Get performs a GET request and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.do(ctx, http.MethodGet, path, nil, out, opts)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.do(ctx, http.MethodPost, path, body, out, opts)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.do(ctx, http.MethodPut, path, body, out, opts)
}

// Patch performs a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.do(ctx, http.MethodPatch, path, body, out, opts)
}

// Delete performs a DELETE request. body may be nil.
func (c *Client) Delete(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.do(ctx, http.MethodDelete, path, body, out, opts)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, opts []RequestOption) error {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	body, err := c.doWithRetry(ctx, method, path, ro, payload)
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}

// doRequest performs one HTTP request.
func (c *Client) doRequest(ctx context.Context, method, path string, ro requestOptions, payload []byte) ([]byte, error) {
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(ro.query) > 0 {
		fullURL += "?" + ro.query.Encode()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range ro.header {
		req.Header[k] = vs
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("X-Request-ID") == "" {
		req.Header.Set("X-Request-ID", uuid.NewString())
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.APIRequest(method, 0, time.Since(start).Seconds())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("do request: %w", ctxErr)
		}
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.metrics.APIRequest(method, resp.StatusCode, time.Since(start).Seconds())
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, body),
			Body:       body,
		}
	}

	return body, nil
}

// doWithRetry performs a request, retrying network failures and 5xx
// responses with jittered exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, method, path string, ro requestOptions, payload []byte) ([]byte, error) {
	b := &backoff.Backoff{
		Min:    c.minBackoff,
		Max:    c.maxBackoff,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 || c.delayFirstAttempt {
			wait := b.Duration()
			if attempt > 1 {
				c.metrics.APIRetry(method)
				c.logger.Debug("retrying request",
					"method", method,
					"path", path,
					"attempt", attempt,
					"backoff", wait,
					"error", lastErr,
				)
			}

			select {
			case <-ctx.Done():
				if lastErr != nil {
					return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
				}
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		body, err := c.doRequest(ctx, method, path, ro, payload)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}

	if c.attempts > 1 {
		c.logger.Warn("request failed after retries",
			"method", method,
			"path", path,
			"attempts", c.attempts,
			"error", lastErr,
		)
		return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
	}
	return nil, lastErr
}

// errorMessage prefers the server's JSON "message" field over the status text.
func errorMessage(status int, body []byte) string {
	var env struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		if env.Message != "" {
			return env.Message
		}
		if env.Error != "" {
			return env.Error
		}
	}
	return http.StatusText(status)
}
