package middleware

import (
	"bytes"
	"log"
	"net/http"
	"time"

	"moderation-gateway/internal/services"
)

// CacheMiddleware serves repeated backend GETs from Redis. It sits inside the
// admission chain, so a cached response still consumed quota and a rate
// token; caching is a latency shortcut, never an enforcement bypass.
type CacheMiddleware struct {
	cacheService *services.CacheService
	cacheTTL     time.Duration
	metrics      *services.MetricsCollector
}

func NewCacheMiddleware(cacheService *services.CacheService, cacheTTL time.Duration, metrics *services.MetricsCollector) *CacheMiddleware {
	return &CacheMiddleware{
		cacheService: cacheService,
		cacheTTL:     cacheTTL,
		metrics:      metrics,
	}
}

// responseWriter wraps http.ResponseWriter to capture response data
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
	}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// Middleware wraps an http.Handler and caches GET responses per API key.
func (m *CacheMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := GetAPIKeyFromContext(r.Context())
		if apiKey == nil {
			next.ServeHTTP(w, r)
			return
		}

		cacheKey := m.cacheService.GenerateCacheKey(apiKey.ID.String(), r.Method, r.URL.Path, r.URL.RawQuery)

		cached, err := m.cacheService.Get(r.Context(), cacheKey)
		if err != nil {
			log.Printf("[WARN] Cache get error: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		if cached != nil {
			m.metrics.RecordCacheHit()
			w.Header().Set("X-Cache", "HIT")
			for key, value := range cached.Headers {
				w.Header().Set(key, value)
			}
			w.WriteHeader(cached.StatusCode)
			w.Write(cached.Body)
			return
		}

		m.metrics.RecordCacheMiss()
		w.Header().Set("X-Cache", "MISS")

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		if rw.statusCode == http.StatusOK && rw.body.Len() > 0 {
			entry := &services.CachedResponse{
				StatusCode: rw.statusCode,
				Headers:    map[string]string{"Content-Type": rw.Header().Get("Content-Type")},
				Body:       rw.body.Bytes(),
			}
			if err := m.cacheService.Set(r.Context(), cacheKey, entry, m.cacheTTL); err != nil {
				log.Printf("[WARN] Failed to cache response: %v", err)
			}
		}
	})
}
