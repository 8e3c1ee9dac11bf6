package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionHandler(t *testing.T, fn func(calls int, w http.ResponseWriter, r *http.Request)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fn(int(calls.Add(1)), w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func writeCompletion(w http.ResponseWriter, content string) {
	json.NewEncoder(w).Encode(ChatResponse{
		ID:      "cmpl-1",
		Choices: []Choice{{Message: Message{Role: "assistant", Content: content}}},
	})
}

func TestChatCompletion_Success(t *testing.T) {
	srv, calls := completionHandler(t, func(n int, w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "test-model", req.Model)

		writeCompletion(w, "hello")
	})

	client := NewClient("test-key", srv.URL)
	resp, err := client.ChatCompletion(context.Background(), ChatRequest{
		Model:    "test-model",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content())
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatCompletion_RetriesServerErrors(t *testing.T) {
	srv, calls := completionHandler(t, func(n int, w http.ResponseWriter, r *http.Request) {
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeCompletion(w, "eventually")
	})

	client := NewClient("k", srv.URL)
	client.SetRetryConfig(3, time.Millisecond, 10*time.Millisecond)

	resp, err := client.ChatCompletion(context.Background(), ChatRequest{Model: "m"})

	require.NoError(t, err)
	assert.Equal(t, "eventually", resp.Content())
	assert.Equal(t, int32(3), calls.Load())
}

func TestChatCompletion_ClientErrorNotRetried(t *testing.T) {
	srv, calls := completionHandler(t, func(n int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorDetail{Message: "bad prompt", Type: "invalid_request_error"}})
	})

	client := NewClient("k", srv.URL)
	_, err := client.ChatCompletion(context.Background(), ChatRequest{Model: "m"})

	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "bad prompt", apiErr.Message)
	assert.False(t, apiErr.Retryable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatCompletion_RateLimitCarriesRetryAfter(t *testing.T) {
	srv, _ := completionHandler(t, func(n int, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	client := NewClient("k", srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.ChatCompletion(ctx, ChatRequest{Model: "m"})

	// The first retry waits on the 7s Retry-After, so the context expires.
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChatCompletion_ContextCancellation(t *testing.T) {
	srv, _ := completionHandler(t, func(n int, w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeCompletion(w, "slow")
	})

	client := NewClient("k", srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.ChatCompletion(ctx, ChatRequest{Model: "m"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCalculateRetryDelay(t *testing.T) {
	c := NewClient("k", "")

	assert.Equal(t, baseRetryDelay, c.calculateRetryDelay(1, nil))
	assert.Equal(t, 2*baseRetryDelay, c.calculateRetryDelay(2, nil))
	assert.Equal(t, 4*baseRetryDelay, c.calculateRetryDelay(3, nil))
	assert.Equal(t, maxRetryDelay, c.calculateRetryDelay(10, nil))

	withHint := &APIError{StatusCode: 429, Retryable: true, RetryAfter: 3 * time.Second}
	assert.Equal(t, 3*time.Second, c.calculateRetryDelay(1, withHint))

	tooLong := &APIError{StatusCode: 429, Retryable: true, RetryAfter: 10 * time.Minute}
	assert.Equal(t, maxRetryDelay, c.calculateRetryDelay(1, tooLong))
}
