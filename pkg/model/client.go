package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 5 * time.Minute
	maxRetries     = 3
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

// DefaultTransport returns an http.Transport with tuned connection pool
// settings for long-running completion calls.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// Client is an OpenAI-compatible chat-completion client
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewClient creates a new client. An empty baseURL falls back to the
// default provider endpoint.
func NewClient(apiKey string, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: DefaultTransport(),
			Timeout:   defaultTimeout,
		},
		maxRetries: maxRetries,
		baseDelay:  baseRetryDelay,
		maxDelay:   maxRetryDelay,
	}
}

// SetTimeout overrides the HTTP client timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// SetRetryConfig overrides the retry budget and backoff bounds
func (c *Client) SetRetryConfig(retries int, baseDelay, maxDelay time.Duration) {
	c.maxRetries = retries
	c.baseDelay = baseDelay
	c.maxDelay = maxDelay
}

// ChatCompletion performs a non-streaming completion with bounded retries.
// Retryable provider failures (throttling, 5xx, transport errors) back off
// exponentially; a Retry-After header takes precedence over the computed
// delay.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateRetryDelay(attempt, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		c.setHeaders(httpReq)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := parseError(resp)
			resp.Body.Close()
			if apiErr.Retryable {
				lastErr = apiErr
				continue
			}
			return nil, apiErr
		}

		var chatResp ChatResponse
		err = json.NewDecoder(resp.Body).Decode(&chatResp)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
		return &chatResp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

// parseError maps a non-200 response to an APIError, classifying 408, 429
// and 5xx as retryable.
func parseError(resp *http.Response) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    resp.Status,
	}

	if body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
		var envelope ErrorResponse
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
			apiErr.Message = envelope.Error.Message
			apiErr.Type = envelope.Error.Type
		}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		apiErr.Retryable = true
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	return apiErr
}

// calculateRetryDelay returns the backoff before the next attempt:
// baseDelay * 2^(attempt-1), capped, unless the provider asked for a
// specific Retry-After.
func (c *Client) calculateRetryDelay(attempt int, lastErr error) time.Duration {
	if apiErr, ok := lastErr.(*APIError); ok && apiErr.RetryAfter > 0 {
		if apiErr.RetryAfter > c.maxDelay {
			return c.maxDelay
		}
		return apiErr.RetryAfter
	}

	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}
