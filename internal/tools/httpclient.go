package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

const (
	defaultToolTimeout = 15 * time.Second
	maxResponseBytes   = 4 << 20
)

var defaultHTTPClient = NewHTTPClient(defaultToolTimeout)

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d", e.Code)
}

// statusCode returns the upstream status carried by err, or 0.
func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// HTTPClient performs upstream tool calls behind one circuit breaker per host.
type HTTPClient struct {
	client *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:   &http.Client{Timeout: timeout},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (c *HTTPClient) breaker(host string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("tool circuit breaker state changed", "host", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// 4xx replies do not count against the upstream.
			code := statusCode(err)
			return err == nil || (code > 0 && code < 500)
		},
	})
	c.breakers[host] = cb
	return cb
}

// Fetch sends a request and returns the response body of a 2xx reply. body,
// when non-nil, is sent as JSON.
func (c *HTTPClient) Fetch(ctx context.Context, method, rawURL string, headers map[string]string, body any) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
	}

	res, err := c.breaker(u.Host).Execute(func() (any, error) {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Code: resp.StatusCode, Body: string(data)}
		}
		return data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s is temporarily unavailable - too many failures: %w", u.Host, err)
	}
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

// FetchJSON is Fetch followed by decoding the reply into out.
func (c *HTTPClient) FetchJSON(ctx context.Context, method, rawURL string, headers map[string]string, body, out any) error {
	data, err := c.Fetch(ctx, method, rawURL, headers, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
