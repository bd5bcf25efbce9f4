package middleware

import (
	"context"
	"log"
	"net/http"

	"moderation-gateway/internal/apierror"
	"moderation-gateway/internal/keys"
	"moderation-gateway/internal/models"
	"moderation-gateway/internal/services"
)

type contextKey string

const APIKeyContextKey contextKey = "api_key"

// requestMetaKey carries a mutable holder installed by the logging
// middleware, so inner middleware can report the authenticated key back out.
const requestMetaKey contextKey = "request_meta"

type requestMeta struct {
	apiKey *models.APIKey
}

// KeyStore is the slice of the store the auth middleware needs.
type KeyStore interface {
	GetAPIKeyByValue(ctx context.Context, value string) (*models.APIKey, error)
}

// AuthMiddleware authenticates requests by API key. Malformed keys are
// rejected before any store lookup; revoked and unknown keys are
// indistinguishable to the caller.
type AuthMiddleware struct {
	store   KeyStore
	format  *keys.Format
	metrics *services.MetricsCollector
}

func NewAuthMiddleware(store KeyStore, format *keys.Format, metrics *services.MetricsCollector) *AuthMiddleware {
	return &AuthMiddleware{store: store, format: format, metrics: metrics}
}

func (m *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value := r.Header.Get("X-API-Key")
		if value == "" {
			log.Printf("[WARN] Request without API key: %s %s", r.Method, r.URL.Path)
			m.metrics.RecordAuthRejection()
			apierror.Write(w, http.StatusUnauthorized, apierror.KindInvalidAPIKey, "Missing API key. Provide the X-API-Key header.")
			return
		}

		if !m.format.Validate(value) {
			log.Printf("[WARN] Malformed API key attempted: %s %s", r.Method, r.URL.Path)
			m.metrics.RecordAuthRejection()
			apierror.Write(w, http.StatusUnauthorized, apierror.KindInvalidAPIKey, "Invalid API key")
			return
		}

		key, err := m.store.GetAPIKeyByValue(r.Context(), value)
		if err != nil {
			// One local retry before failing closed.
			key, err = m.store.GetAPIKeyByValue(r.Context(), value)
		}
		if err != nil {
			log.Printf("[ERROR] Database error validating API key: %v", err)
			apierror.Write(w, http.StatusServiceUnavailable, apierror.KindServiceUnavailable, "Temporarily unable to verify credentials")
			return
		}

		if key == nil {
			log.Printf("[WARN] Unknown API key attempted: %s", keys.Redact(value))
			m.metrics.RecordAuthRejection()
			apierror.Write(w, http.StatusUnauthorized, apierror.KindInvalidAPIKey, "Invalid API key")
			return
		}

		if meta := metaFromContext(r.Context()); meta != nil {
			meta.apiKey = key
		}

		ctx := context.WithValue(r.Context(), APIKeyContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetAPIKeyFromContext(ctx context.Context) *models.APIKey {
	if key, ok := ctx.Value(APIKeyContextKey).(*models.APIKey); ok {
		return key
	}
	return nil
}

func metaFromContext(ctx context.Context) *requestMeta {
	if meta, ok := ctx.Value(requestMetaKey).(*requestMeta); ok {
		return meta
	}
	return nil
}
