package integrations

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

	"orderbridge/internal/breaker"
)

func newTestClient(t *testing.T, opts breaker.Options, copts ...ClientOption) (*Client, *breaker.Registry) {
	t.Helper()
	reg := breaker.New()
	require.NoError(t, reg.Register("acme", opts))
	return NewClient("acme", reg, copts...), reg
}

func TestClientDecodesAndAuthorizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/things", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "secret-key", r.Header.Get("X-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"ok"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, breaker.Options{}, WithAuthorizer(func(r *http.Request, cfg ProviderConfig) { r.Header.Set("X-Key", cfg.APIKey) }))
	var out struct{ Name string }
	err := c.Do(context.Background(), ProviderConfig{BaseURL: srv.URL + "/", APIKey: "secret-key"},
		Request{Op: "get", Method: http.MethodGet, Path: "/v1/things", Query: map[string][]string{"page": {"2"}}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Name)
}

func TestClientNon2xxIsCallError(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusTooManyRequests, true},
		{http.StatusNotFound, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			c, _ := newTestClient(t, breaker.Options{})
			err := c.Do(context.Background(), ProviderConfig{BaseURL: srv.URL}, Request{Op: "get", Method: http.MethodGet, Path: "/"}, nil)
			require.ErrorIs(t, err, ErrAdapterCallFailed)
			var ce *CallError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tc.status, ce.StatusCode)
			assert.Equal(t, "nope", ce.Body)
			assert.Equal(t, tc.retryable, ce.Retryable())
		})
	}
}

func TestClientOpensCircuitAndStopsCalling(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, reg := newTestClient(t, breaker.Options{FailureThreshold: 3, OpenTimeout: time.Minute})
	cfg := ProviderConfig{BaseURL: srv.URL}
	for i := 0; i < 3; i++ {
		require.Error(t, c.Do(context.Background(), cfg, Request{Op: "get", Method: http.MethodGet, Path: "/"}, nil))
	}
	state, err := reg.State("acme")
	require.NoError(t, err)
	assert.Equal(t, breaker.StateOpen, state)

	err = c.Do(context.Background(), cfg, Request{Op: "get", Method: http.MethodGet, Path: "/"}, nil)
	require.ErrorIs(t, err, breaker.ErrCircuitOpen)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestClientTimeoutIsRetryableFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, reg := newTestClient(t, breaker.Options{FailureThreshold: 5})
	err := c.Do(context.Background(), ProviderConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, Request{Op: "slow", Method: http.MethodGet, Path: "/"}, nil)
	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.Retryable())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	snap, err := reg.Snapshot("acme")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ConsecutiveFailures)
}

func TestClientRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c, reg := newTestClient(t, breaker.Options{}, WithRateLimit(0.001, 1))
	cfg := ProviderConfig{BaseURL: srv.URL}
	require.NoError(t, c.Do(context.Background(), cfg, Request{Op: "get", Method: http.MethodGet, Path: "/"}, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, c.Do(ctx, cfg, Request{Op: "get", Method: http.MethodGet, Path: "/"}, nil))

	snap, err := reg.Snapshot("acme")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.ConsecutiveFailures, "waiting on our own limiter is not a provider failure")
}
