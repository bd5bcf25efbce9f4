package services

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProxy(backendURL string, retries int) *ProxyService {
	p := NewProxyService(backendURL, 2*time.Second, retries)
	p.retryBase = time.Millisecond
	return p
}

func TestForwardPassesThroughResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/moderate", r.URL.Path)
		assert.Equal(t, "q=1", r.URL.RawQuery)
		assert.Equal(t, "value", r.Header.Get("X-Custom"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"text":"hello"}`, string(body))

		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"flagged":false}`))
	}))
	defer backend.Close()

	p := newTestProxy(backend.URL, 2)

	req := httptest.NewRequest(http.MethodPost, "/v1/moderate?q=1", strings.NewReader(`{"text":"hello"}`))
	req.Header.Set("X-Custom", "value")

	resp, err := p.Forward(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Backend"))

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `{"flagged":false}`, string(body))
}

func TestForwardDoesNotRetry4xx(t *testing.T) {
	var hits atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer backend.Close()

	p := newTestProxy(backend.URL, 2)

	resp, err := p.Forward(httptest.NewRequest(http.MethodGet, "/v1/moderate", nil))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load(), "4xx responses pass through without retry")
}

func TestForwardRetriesIdempotent5xx(t *testing.T) {
	var hits atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	p := newTestProxy(backend.URL, 2)

	resp, err := p.Forward(httptest.NewRequest(http.MethodGet, "/status", nil))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), hits.Load())
}

func TestForwardDoesNotRetryNonIdempotent5xx(t *testing.T) {
	var hits atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	p := newTestProxy(backend.URL, 2)

	resp, err := p.Forward(httptest.NewRequest(http.MethodPost, "/v1/moderate", strings.NewReader("{}")))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load(), "a 5xx after a POST must not be replayed")
}

func TestForwardUnreachableBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close() // nothing listening anymore

	p := newTestProxy(backend.URL, 1)

	_, err := p.Forward(httptest.NewRequest(http.MethodPost, "/v1/moderate", strings.NewReader("{}")))
	require.Error(t, err)

	status, kind := p.ErrorStatus(err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "service_unavailable", kind)
}

func TestForwardTimeout(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer backend.Close()

	p := NewProxyService(backend.URL, 50*time.Millisecond, 2)
	p.retryBase = time.Millisecond

	start := time.Now()
	_, err := p.Forward(httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "timeouts are not retried")

	status, kind := p.ErrorStatus(err)
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, "gateway_timeout", kind)
}
