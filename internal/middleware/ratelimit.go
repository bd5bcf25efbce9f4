package middleware

import (
	"fmt"
	"log"
	"net/http"

	"moderation-gateway/internal/apierror"
	"moderation-gateway/internal/services"
)

// RateLimitMiddleware enforces the per-key token bucket.
type RateLimitMiddleware struct {
	rateLimiter *services.RateLimiter
	burstLimit  int
	metrics     *services.MetricsCollector
}

func NewRateLimitMiddleware(rateLimiter *services.RateLimiter, burstLimit int, metrics *services.MetricsCollector) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimiter: rateLimiter,
		burstLimit:  burstLimit,
		metrics:     metrics,
	}
}

// Middleware wraps an http.Handler and enforces rate limits
func (m *RateLimitMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := GetAPIKeyFromContext(r.Context())
		if apiKey == nil {
			// Rate limiting runs strictly after auth.
			apierror.Write(w, http.StatusUnauthorized, apierror.KindInvalidAPIKey, "Invalid API key")
			return
		}

		res, err := m.rateLimiter.Consume(r.Context(), apiKey.ID.String())
		if err != nil {
			res, err = m.rateLimiter.Consume(r.Context(), apiKey.ID.String())
		}
		if err != nil {
			log.Printf("[ERROR] Rate limiter error: %v", err)
			apierror.Write(w, http.StatusServiceUnavailable, apierror.KindServiceUnavailable, "Temporarily unable to check rate limit")
			return
		}

		w.Header().Set("X-RateLimit-Burst", fmt.Sprintf("%d", m.burstLimit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", int(res.TokensRemaining)))

		if !res.Allowed {
			log.Printf("[WARN] Rate limit exceeded for API key: %s", apiKey.Name)
			m.metrics.RecordRateLimitHit()
			apierror.WriteRateLimited(w, res.RetryAfterSeconds)
			return
		}

		next.ServeHTTP(w, r)
	})
}
