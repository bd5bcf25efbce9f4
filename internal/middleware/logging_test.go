package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"moderation-gateway/internal/apierror"
	"moderation-gateway/internal/models"
	"moderation-gateway/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRequestLogger struct {
	mu      sync.Mutex
	entries []*models.RequestLog
}

func (l *fakeRequestLogger) LogRequest(_ context.Context, entry *models.RequestLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func TestLoggingRecordsRejectionWithoutKey(t *testing.T) {
	logger := &fakeRequestLogger{}
	metrics := services.NewMetricsCollector()
	lm := NewLoggingMiddleware(logger, metrics)

	handler := lm.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apierror.Write(w, http.StatusUnauthorized, apierror.KindInvalidAPIKey, "Invalid API key")
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/moderate", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("User-Agent", "curl/8.0")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Len(t, logger.entries, 1)
	entry := logger.entries[0]
	assert.Nil(t, entry.APIKeyID, "unauthenticated rejections log with a NULL key reference")
	assert.Equal(t, http.StatusUnauthorized, entry.StatusCode)
	assert.Equal(t, "invalid_api_key", entry.ErrorKind)
	assert.Equal(t, "203.0.113.9", entry.IPAddress)
	assert.Equal(t, "curl/8.0", entry.UserAgent)
	assert.Equal(t, "POST", entry.Method)
	assert.Equal(t, "/v1/moderate", entry.Path)
}

func TestLoggingRecordsAuthenticatedKey(t *testing.T) {
	logger := &fakeRequestLogger{}
	metrics := services.NewMetricsCollector()
	lm := NewLoggingMiddleware(logger, metrics)

	store := newFakeStore()
	key := store.addKey("bal_test_2026_abcdef123456", 100)
	auth := NewAuthMiddleware(store, testFormat(t), metrics)

	handler := lm.Middleware(auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"flagged":false}`))
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/moderate", nil)
	req.Header.Set("X-API-Key", key.Key)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Len(t, logger.entries, 1)
	entry := logger.entries[0]
	require.NotNil(t, entry.APIKeyID)
	assert.Equal(t, key.ID, *entry.APIKeyID)
	assert.Equal(t, http.StatusOK, entry.StatusCode)
	assert.Empty(t, entry.ErrorKind)
	assert.Equal(t, int64(len(`{"flagged":false}`)), entry.ResponseBytes)
}
