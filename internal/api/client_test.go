package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rickgao/fleet-live/internal/metrics"
)

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://api.example.com/")

		if c.baseURL != "https://api.example.com" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "https://api.example.com")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.attempts != 3 {
			t.Errorf("attempts = %d, want %d", c.attempts, 3)
		}
		if c.minBackoff != 100*time.Millisecond {
			t.Errorf("minBackoff = %v, want %v", c.minBackoff, 100*time.Millisecond)
		}
		if c.delayFirstAttempt {
			t.Error("delayFirstAttempt should default to false")
		}
		if c.limiter != nil {
			t.Error("limiter should be nil by default")
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with timeout option", func(t *testing.T) {
		c := NewClient("https://api.example.com", WithTimeout(5*time.Second))
		if c.httpClient.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 5*time.Second)
		}
	})

	t.Run("with retries option", func(t *testing.T) {
		c := NewClient("https://api.example.com", WithRetries(5, 2*time.Second))
		if c.attempts != 5 {
			t.Errorf("attempts = %d, want %d", c.attempts, 5)
		}
		if c.minBackoff != 2*time.Second {
			t.Errorf("minBackoff = %v, want %v", c.minBackoff, 2*time.Second)
		}
	})

	t.Run("retries clamp to one attempt", func(t *testing.T) {
		c := NewClient("https://api.example.com", WithRetries(0, 0))
		if c.attempts != 1 {
			t.Errorf("attempts = %d, want 1", c.attempts)
		}
		if c.minBackoff != 100*time.Millisecond {
			t.Errorf("minBackoff = %v, want default", c.minBackoff)
		}
	})

	t.Run("with rate limit option", func(t *testing.T) {
		c := NewClient("https://api.example.com", WithRateLimit(10, 0))
		if c.limiter == nil {
			t.Fatal("limiter not set")
		}
		if c.limiter.Burst() != 1 {
			t.Errorf("burst = %d, want 1", c.limiter.Burst())
		}

		c = NewClient("https://api.example.com", WithRateLimit(10, 5), WithRateLimit(0, 0))
		if c.limiter != nil {
			t.Error("zero rate should disable limiter")
		}
	})

	t.Run("with logger option", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := NewClient("https://api.example.com", WithLogger(logger))
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
	})

	t.Run("nil logger keeps default", func(t *testing.T) {
		c := NewClient("https://api.example.com", WithLogger(nil))
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with custom HTTP client", func(t *testing.T) {
		customClient := &http.Client{Timeout: 10 * time.Second}
		c := NewClient("https://api.example.com", WithHTTPClient(customClient))
		if c.httpClient != customClient {
			t.Error("custom HTTP client not set")
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{
			StatusCode: 404,
			Message:    "Not Found",
			Body:       []byte(`{"error": "vehicle not found"}`),
		}
		expected := "fleet api error 404: Not Found"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("IsRetryable for 5xx errors", func(t *testing.T) {
		tests := []struct {
			code     int
			expected bool
		}{
			{500, true},
			{502, true},
			{503, true},
			{504, true},
			{429, false},
			{400, false},
			{401, false},
			{404, false},
			{499, false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
			}
		}
	})

	t.Run("IsRetryable helper", func(t *testing.T) {
		if !IsRetryable(&NetworkError{Err: errors.New("connection reset")}) {
			t.Error("network error should be retryable")
		}
		if IsRetryable(context.Canceled) {
			t.Error("context error should not be retryable")
		}
		if IsRetryable(nil) {
			t.Error("nil should not be retryable")
		}
	})
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), "application/json")
			}
			if r.Header.Get("X-Request-ID") == "" {
				t.Error("X-Request-ID header missing")
			}
			if r.URL.Path != "/v1/test" {
				t.Errorf("path = %q, want %q", r.URL.Path, "/v1/test")
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status": "ok"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL + "/")
		body, err := c.doRequest(context.Background(), http.MethodGet, "v1/test", requestOptions{}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"status": "ok"}` {
			t.Errorf("body = %q, want %q", string(body), `{"status": "ok"}`)
		}
	})

	t.Run("request with query and headers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("limit") != "10" {
				t.Errorf("limit = %q, want %q", r.URL.Query().Get("limit"), "10")
			}
			if r.Header.Get("X-Tenant") != "north" {
				t.Errorf("X-Tenant = %q, want %q", r.Header.Get("X-Tenant"), "north")
			}
			if r.Header.Get("X-Request-ID") != "fixed" {
				t.Errorf("X-Request-ID = %q, want %q", r.Header.Get("X-Request-ID"), "fixed")
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithHeader("X-Tenant", "north"))
		var ro requestOptions
		WithQuery("limit", "10")(&ro)
		WithRequestHeader("X-Request-ID", "fixed")(&ro)
		if _, err := c.doRequest(context.Background(), http.MethodGet, "/v1/test", ro, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("request body is JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", r.Header.Get("Content-Type"))
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"a":1}` {
				t.Errorf("body = %q", body)
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		if _, err := c.doRequest(context.Background(), http.MethodPost, "x", requestOptions{}, []byte(`{"a":1}`)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("error response uses server message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"message": "vin already registered"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), http.MethodPost, "v1/vehicle", requestOptions{}, []byte(`{}`))
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T: %v", err, err)
		}
		if apiErr.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, http.StatusUnprocessableEntity)
		}
		if apiErr.Message != "vin already registered" {
			t.Errorf("Message = %q, want %q", apiErr.Message, "vin already registered")
		}
	})

	t.Run("error response without JSON uses status text", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`nope`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), http.MethodGet, "v1/vehicle/x", requestOptions{}, nil)
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.Message != "Not Found" {
			t.Errorf("Message = %q, want %q", apiErr.Message, "Not Found")
		}
		if string(apiErr.Body) != "nope" {
			t.Errorf("Body = %q, want %q", apiErr.Body, "nope")
		}
	})

	t.Run("connection failure is a network error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		c := NewClient(url)
		_, err := c.doRequest(context.Background(), http.MethodGet, "x", requestOptions{}, nil)
		var netErr *NetworkError
		if !errors.As(err, &netErr) {
			t.Fatalf("expected *NetworkError, got %T: %v", err, err)
		}
	})
}

// TestDoWithRetry tests retry behavior.
func TestDoWithRetry(t *testing.T) {
	t.Run("succeeds on first try", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		body, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", requestOptions{}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"ok": true}` {
			t.Errorf("body = %q, want %q", string(body), `{"ok": true}`)
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`error`))
				return
			}
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", requestOptions{}, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("does not retry on 4xx", func(t *testing.T) {
		for _, code := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusTooManyRequests} {
			var attempts int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&attempts, 1)
				w.WriteHeader(code)
			}))

			c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
			_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", requestOptions{}, nil)
			server.Close()

			if err == nil {
				t.Fatalf("status %d: expected error, got nil", code)
			}
			if attempts != 1 {
				t.Errorf("status %d: attempts = %d, want 1", code, attempts)
			}
		}
	})

	t.Run("retries network errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		c := NewClient(url, WithRetries(3, time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", requestOptions{}, nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "max retries exceeded") {
			t.Errorf("error should contain 'max retries exceeded', got %v", err)
		}
		var netErr *NetworkError
		if !errors.As(err, &netErr) {
			t.Errorf("expected wrapped *NetworkError, got %v", err)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", requestOptions{}, nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
			t.Errorf("expected wrapped 502 APIError, got %v", err)
		}
		// attempts is the total, not the retry count
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("single attempt returns error unwrapped", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(1, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", requestOptions{}, nil)
		if _, ok := err.(*APIError); !ok {
			t.Errorf("expected *APIError, got %T: %v", err, err)
		}
	})

	t.Run("delay first attempt", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(1, 40*time.Millisecond), WithDelayFirstAttempt(true))
		start := time.Now()
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", requestOptions{}, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
			t.Errorf("first attempt ran after %v, want at least 40ms", elapsed)
		}
	})

	t.Run("context cancellation during retry", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(5, 50*time.Millisecond))
		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		_, err := c.doWithRetry(ctx, http.MethodGet, "/test", requestOptions{}, nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("error should wrap context.DeadlineExceeded, got %v", err)
		}
	})

	t.Run("records metrics", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		reg := prometheus.NewRegistry()
		c := NewClient(server.URL, WithRetries(3, time.Millisecond), WithMetrics(metrics.New(reg)))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", requestOptions{}, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		expected := `
# HELP fleet_api_retries_total REST request retries by method
# TYPE fleet_api_retries_total counter
fleet_api_retries_total{method="GET"} 1
`
		if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "fleet_api_retries_total"); err != nil {
			t.Error(err)
		}
	})
}

// TestRateLimit checks that the limiter spaces requests.
func TestRateLimit(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRateLimit(20, 1))
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := c.Get(context.Background(), "x", nil); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	// burst 1 at 20/s: the 2nd and 3rd requests wait ~50ms each
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 requests took %v, expected limiter to space them", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Get(ctx, "x", nil); err == nil {
		t.Error("expected error with cancelled context")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

// TestVerbs checks method, body and decoding for each verb helper.
func TestVerbs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(map[string]string{
			"method": r.Method,
			"body":   string(body),
		})
	}))
	defer server.Close()

	c := NewClient(server.URL)
	ctx := context.Background()
	in := map[string]int{"n": 1}

	type echo struct {
		Method string `json:"method"`
		Body   string `json:"body"`
	}

	tests := []struct {
		name     string
		call     func(out *echo) error
		method   string
		wantBody string
	}{
		{"get", func(out *echo) error { return c.Get(ctx, "x", out) }, http.MethodGet, ""},
		{"post", func(out *echo) error { return c.Post(ctx, "x", in, out) }, http.MethodPost, `{"n":1}`},
		{"put", func(out *echo) error { return c.Put(ctx, "x", in, out) }, http.MethodPut, `{"n":1}`},
		{"patch", func(out *echo) error { return c.Patch(ctx, "x", in, out) }, http.MethodPatch, `{"n":1}`},
		{"delete", func(out *echo) error { return c.Delete(ctx, "x", nil, out) }, http.MethodDelete, ""},
		{"delete with body", func(out *echo) error { return c.Delete(ctx, "x", in, out) }, http.MethodDelete, `{"n":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out echo
			if err := tt.call(&out); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Method != tt.method {
				t.Errorf("method = %q, want %q", out.Method, tt.method)
			}
			if out.Body != tt.wantBody {
				t.Errorf("body = %q, want %q", out.Body, tt.wantBody)
			}
		})
	}
}

// TestJSONUnmarshalErrors tests handling of malformed JSON responses.
func TestJSONUnmarshalErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{invalid json`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	var out map[string]any
	err := c.Get(context.Background(), "x", &out)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "unmarshal response") {
		t.Errorf("error should mention unmarshal, got %v", err)
	}

	// A nil out skips decoding.
	if err := c.Get(context.Background(), "x", nil); err != nil {
		t.Errorf("unexpected error with nil out: %v", err)
	}
}
