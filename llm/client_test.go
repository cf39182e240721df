package llm

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

// fakeProvider is a minimal provider for exercising the client against
// httptest servers. The response body is {"content": "..."}.
type fakeProvider struct{}

func init() {
	RegisterProvider(&fakeProvider{})
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) BuildURL(baseURL string) string { return baseURL }

func (f *fakeProvider) SetHeaders(_ *http.Request) {}

func (f *fakeProvider) BuildRequestBody(model string, messages []Message, temperature *float64, maxTokens int) ([]byte, error) {
	return json.Marshal(map[string]any{"model": model, "messages": messages})
}

func (f *fakeProvider) ParseResponse(body []byte, model string) (*Response, error) {
	var parsed struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	return &Response{Content: parsed.Content, Model: model}, nil
}

// fastRetry keeps test retries from sleeping.
func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Millisecond,
	}
}

func contentServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"content": content})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteReturnsContent(t *testing.T) {
	srv := contentServer(t, "hello")

	client := NewClient([]Endpoint{{Provider: "fake", Model: "test-model", URL: srv.URL}},
		WithRetryConfig(fastRetry(1)))

	resp, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.NotEmpty(t, resp.RequestID)
}

func TestCompleteRequiresMessages(t *testing.T) {
	client := NewClient([]Endpoint{{Provider: "fake", Model: "test-model"}})
	_, err := client.Complete(context.Background(), Request{})
	assert.Error(t, err)
}

func TestCompleteRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"content": "recovered"})
	}))
	defer srv.Close()

	client := NewClient([]Endpoint{{Provider: "fake", Model: "test-model", URL: srv.URL}},
		WithRetryConfig(fastRetry(3)))

	resp, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCompleteFallsBackToNextEndpoint(t *testing.T) {
	var primaryCalls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer primary.Close()
	fallback := contentServer(t, "from fallback")

	client := NewClient([]Endpoint{
		{Provider: "fake", Model: "primary", URL: primary.URL},
		{Provider: "fake", Model: "secondary", URL: fallback.URL},
	}, WithRetryConfig(fastRetry(2)))

	resp, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Content)
	assert.Equal(t, int32(2), primaryCalls.Load(), "transient failures exhaust retries before fallback")
}

func TestCompleteFatalErrorSkipsFallback(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer primary.Close()

	var fallbackCalls atomic.Int32
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"content": "unreachable"})
	}))
	defer fallback.Close()

	client := NewClient([]Endpoint{
		{Provider: "fake", Model: "primary", URL: primary.URL},
		{Provider: "fake", Model: "secondary", URL: fallback.URL},
	}, WithRetryConfig(fastRetry(3)))

	_, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, int32(0), fallbackCalls.Load())
}

func TestCompleteUnknownProviderIsFatal(t *testing.T) {
	client := NewClient([]Endpoint{{Provider: "nonexistent", Model: "x"}},
		WithRetryConfig(fastRetry(3)))

	_, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		err := classifyHTTPError(tt.status, []byte("body"))
		assert.Equal(t, tt.transient, IsTransient(err), "status %d", tt.status)
		assert.Equal(t, !tt.transient, IsFatal(err), "status %d", tt.status)
	}
}

func TestCalculateBackoffBounds(t *testing.T) {
	client := NewClient(nil, WithRetryConfig(RetryConfig{
		MaxAttempts:       5,
		BackoffBase:       time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        4 * time.Second,
	}))

	for attempt := 1; attempt <= 5; attempt++ {
		backoff := client.calculateBackoff(attempt)
		// Jitter stays within 25% of the capped exponential value.
		assert.GreaterOrEqual(t, backoff, 750*time.Millisecond, "attempt %d", attempt)
		assert.LessOrEqual(t, backoff, 5*time.Second, "attempt %d", attempt)
	}
}

func TestAvailable(t *testing.T) {
	var nilClient *Client
	assert.False(t, nilClient.Available())
	assert.False(t, NewClient(nil).Available())
	assert.True(t, NewClient([]Endpoint{{Provider: "fake", Model: "m"}}).Available())
}
