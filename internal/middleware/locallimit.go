package middleware

import (
	"log"
	"net/http"

	"moderation-gateway/internal/apierror"

	"golang.org/x/time/rate"
)

// LocalLimitMiddleware shields the management surface with a process-local
// token bucket. This is abuse protection for admin endpoints only; the
// fleet-wide enforcement for API traffic lives in the shared store.
type LocalLimitMiddleware struct {
	limiter *rate.Limiter
}

func NewLocalLimitMiddleware(rps float64, burst int) *LocalLimitMiddleware {
	return &LocalLimitMiddleware{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (m *LocalLimitMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.limiter.Allow() {
			log.Printf("[WARN] Management surface rate limit hit: %s %s", r.Method, r.URL.Path)
			apierror.WriteRateLimited(w, 1)
			return
		}
		next.ServeHTTP(w, r)
	})
}
