package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/pkg/apperrors"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func newTestClient(retries int) (*Client, *[]time.Duration) {
	cfg := DefaultConfig()
	cfg.MaxRetries = retries
	client := NewClient(cfg, getTestLogger())
	slept := []time.Duration{}
	client.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return client, &slept
}

func TestDo_RetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client, slept := newTestClient(3)
	resp, err := client.Do(context.Background(), "test", nil, Request{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls)
	require.Len(t, *slept, 2)
	assert.Greater(t, (*slept)[1], (*slept)[0]/2)

	body, err := resp.JSON()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, body)
}

func TestDo_ExhaustedRetriesAreTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, _ := newTestClient(2)
	_, err := client.Do(context.Background(), "test", nil, Request{URL: server.URL})
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))

	var transient *apperrors.TransientProviderError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, http.StatusTooManyRequests, transient.StatusCode)
	assert.Equal(t, 2*time.Second, transient.RetryAfter)
}

func TestDo_ClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad token"))
	}))
	defer server.Close()

	client, _ := newTestClient(3)
	_, err := client.Do(context.Background(), "test", nil, Request{URL: server.URL})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.False(t, apperrors.IsTransient(err))
	assert.Equal(t, int32(1), calls)
}

func TestDo_SendsQueryHeadersAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "secret", r.Header.Get("api_access_token"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":7}`))
	}))
	defer server.Close()

	client, _ := newTestClient(0)
	resp, err := client.Do(context.Background(), "test", NewLimiter(100), Request{
		Method:  http.MethodPost,
		URL:     server.URL,
		Query:   map[string][]string{"page": {"2"}},
		Headers: map[string]string{"api_access_token": "secret"},
		Body:    map[string]any{"name": "Ana"},
	})
	require.NoError(t, err)

	var out struct {
		ID int `json:"id"`
	}
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, 7, out.ID)
}

func TestBackoff_HonorsRetryAfter(t *testing.T) {
	client, _ := newTestClient(3)
	err := &apperrors.TransientProviderError{Provider: "test", RetryAfter: 5 * time.Second}
	assert.Equal(t, 5*time.Second, client.backoff(1, err))

	capped := &apperrors.TransientProviderError{Provider: "test", RetryAfter: time.Hour}
	assert.Equal(t, client.cfg.MaxBackoff, client.backoff(1, capped))
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, NewLimiter(0))
	limiter := NewLimiter(0.5)
	require.NotNil(t, limiter)
	assert.Equal(t, 1, limiter.Burst())
}
