package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerTestServer(t *testing.T, b *MemoryBackend, name string, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	inst := NewInstance(name, u.Hostname(), port)
	inst.Status = StatusUp
	require.NoError(t, b.Register(context.Background(), inst))
	return srv
}

func TestServiceClientDoSucceedsOnFirstAttempt(t *testing.T) {
	b := NewMemoryBackend(0)
	registerTestServer(t, b, "orders", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	d, err := NewDiscoveryClient(b, DiscoveryClientConfig{}, nil)
	require.NoError(t, err)
	defer d.Close()

	sc, err := NewServiceClient(d, ServiceClientConfig{ServiceName: "orders", RetryDelay: time.Millisecond}, nil)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "http://placeholder/orders/1", nil)
	require.NoError(t, err)

	resp, err := sc.Do(context.Background(), req, "")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServiceClientRetriesOnRetryableStatus(t *testing.T) {
	var attempts int32
	b := NewMemoryBackend(0)
	registerTestServer(t, b, "orders", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	d, err := NewDiscoveryClient(b, DiscoveryClientConfig{}, nil)
	require.NoError(t, err)
	defer d.Close()

	sc, err := NewServiceClient(d, ServiceClientConfig{ServiceName: "orders", Retries: 5, RetryDelay: time.Millisecond}, nil)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "http://placeholder/orders/1", nil)
	require.NoError(t, err)

	resp, err := sc.Do(context.Background(), req, "")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestServiceClientDoesNotRetryNonRetryableStatus(t *testing.T) {
	var attempts int32
	b := NewMemoryBackend(0)
	registerTestServer(t, b, "orders", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))

	d, err := NewDiscoveryClient(b, DiscoveryClientConfig{}, nil)
	require.NoError(t, err)
	defer d.Close()

	sc, err := NewServiceClient(d, ServiceClientConfig{ServiceName: "orders", Retries: 5, RetryDelay: time.Millisecond}, nil)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "http://placeholder/orders/1", nil)
	require.NoError(t, err)

	resp, err := sc.Do(context.Background(), req, "")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "non-retryable status must not be retried")
}

func TestServiceClientReturnsNoInstancesWhenNoneRegistered(t *testing.T) {
	b := NewMemoryBackend(0)
	d, err := NewDiscoveryClient(b, DiscoveryClientConfig{}, nil)
	require.NoError(t, err)
	defer d.Close()

	sc, err := NewServiceClient(d, ServiceClientConfig{ServiceName: "ghost", RetryDelay: time.Millisecond}, nil)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "http://placeholder/ghost/1", nil)
	require.NoError(t, err)

	_, err = sc.Do(context.Background(), req, "")
	assert.ErrorIs(t, err, ErrNoInstances)
}

func TestServiceClientExhaustsRetriesAndReturnsMaxAttemptsError(t *testing.T) {
	b := NewMemoryBackend(0)
	registerTestServer(t, b, "orders", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	d, err := NewDiscoveryClient(b, DiscoveryClientConfig{}, nil)
	require.NoError(t, err)
	defer d.Close()

	sc, err := NewServiceClient(d, ServiceClientConfig{ServiceName: "orders", Retries: 2, RetryDelay: time.Millisecond}, nil)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "http://placeholder/orders/1", nil)
	require.NoError(t, err)

	_, err = sc.Do(context.Background(), req, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxAttemptsExceeded)
}
