package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/bottlescout/price-ingest/internal/logger"
)

// RetryPolicy bounds the retry-with-backoff loop around a single request.
// Delay doubles between attempts, with jitter.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used when a zero policy is supplied
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: 2 * time.Second,
	MaxInterval:     30 * time.Second,
}

// HTTPClient defines an interface for HTTP client operations to enable mocking
type HTTPClient interface {
	// GetBytes performs a GET request with optional headers and returns the body
	GetBytes(ctx context.Context, url string, headers map[string]string) ([]byte, error)

	// PostForm performs a POST request with a form/JSON body and returns the body
	PostForm(ctx context.Context, url string, contentType string, body io.Reader, headers map[string]string) ([]byte, error)
}

// RealHTTPClient implements HTTPClient using the standard http package
type RealHTTPClient struct {
	client *http.Client
	retry  RetryPolicy
}

// NewHTTPClient creates a new real HTTP client
func NewHTTPClient(timeout time.Duration, retry RetryPolicy) HTTPClient {
	if retry.MaxRetries == 0 {
		retry = DefaultRetryPolicy
	}
	return &RealHTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
		retry: retry,
	}
}

// doRequestWithRetry executes an HTTP request with exponential backoff retry.
// Transport errors, 429 and 5xx responses are retried up to the bounded
// attempt count; other non-OK status codes are permanent.
func (c *RealHTTPClient) doRequestWithRetry(ctx context.Context, req *http.Request) ([]byte, error) {
	var respBody []byte

	operation := func() error {
		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to perform request: %w", err)
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				logger.Warn("failed to close response body", zap.Error(err), zap.String("url", req.URL.String()))
			}
		}()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			logger.Warn("retryable status, backing off",
				zap.Int("status", resp.StatusCode),
				zap.String("url", req.URL.String()))
			return fmt.Errorf("retryable status code %d", resp.StatusCode)
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body)))
		}

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to read response body: %w", err))
		}

		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialInterval
	b.MaxInterval = c.retry.MaxInterval
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	policy := backoff.WithMaxRetries(backoff.WithContext(b, ctx), c.retry.MaxRetries)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("request failed after retries: %w", err)
	}

	return respBody, nil
}

// GetBytes performs a GET request with optional headers and returns the body
func (c *RealHTTPClient) GetBytes(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.doRequestWithRetry(ctx, req)
}

// PostForm performs a POST request and returns the response body
func (c *RealHTTPClient) PostForm(ctx context.Context, url string, contentType string, body io.Reader, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.doRequestWithRetry(ctx, req)
}
