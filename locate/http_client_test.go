package locate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoWithRetrySucceedsAfterFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	cfg := newFetchConfig([]FetchOption{WithMaxRetries(3), WithBaseBackoff(time.Millisecond)})
	var got string
	err := doWithRetry(context.Background(), cfg, httpRequest{method: "GET", url: server.URL}, func(b []byte) error {
		got = string(b)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoWithRetryDoesNotRetryParseErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("garbage"))
	}))
	defer server.Close()

	parseErr := errors.New("bad body")
	cfg := newFetchConfig([]FetchOption{WithMaxRetries(5), WithBaseBackoff(time.Millisecond)})
	err := doWithRetry(context.Background(), cfg, httpRequest{method: "GET", url: server.URL}, func([]byte) error {
		return parseErr
	})
	assert.ErrorIs(t, err, parseErr)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoWithRetryHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := newFetchConfig([]FetchOption{WithMaxRetries(5), WithBaseBackoff(time.Hour)})
	err := doWithRetry(ctx, cfg, httpRequest{method: "GET", url: server.URL}, func([]byte) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFetchConfig(t *testing.T) {
	cfg := newFetchConfig(nil)
	assert.Equal(t, DefaultMaxRetries, cfg.maxRetries)
	assert.Equal(t, DefaultFetchTimeout, cfg.client.Timeout)

	client := &http.Client{}
	cfg = newFetchConfig([]FetchOption{WithMaxRetries(0), WithHTTPClient(client), WithTimeout(time.Second)})
	assert.Equal(t, 1, cfg.maxRetries)
	assert.Same(t, client, cfg.client)
	assert.Equal(t, time.Second, cfg.timeout)
}
