package httpc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RequestError carries the request coordinates of a 4xx/5xx response for
// diagnostics.
type RequestError struct {
	Status int
	Url    string
	Method string
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("http %s %s: status %d: %s", e.Method, e.Url, e.Status, e.Reason)
}

// Client wraps the HTTP transport with a per-call timeout and bounded
// retries with exponential backoff. Server errors (5xx) and transport
// failures are retried; client errors (4xx) are permanent.
type Client struct {
	http       *http.Client
	maxRetries uint
}

func NewClient(timeout time.Duration, maxRetries int) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		maxRetries: uint(maxRetries),
	}
}

// GetBytes fetches url and returns the response body.
func (c *Client) GetBytes(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			reqErr := &RequestError{
				Status: resp.StatusCode,
				Url:    url,
				Method: http.MethodGet,
				Reason: resp.Status,
			}
			if resp.StatusCode < 500 {
				return nil, backoff.Permanent(reqErr)
			}
			return nil, reqErr
		}
		return io.ReadAll(resp.Body)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 3 * time.Second
	return backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(c.maxRetries))
}

// GetText fetches url and returns the response body as a string.
func (c *Client) GetText(ctx context.Context, url string, headers map[string]string) (string, error) {
	b, err := c.GetBytes(ctx, url, headers)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
