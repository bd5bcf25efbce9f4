package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"moderation-gateway/internal/models"
	"moderation-gateway/internal/services"
)

// RequestLogger is the slice of the store the logging middleware needs.
type RequestLogger interface {
	LogRequest(ctx context.Context, entry *models.RequestLog) error
}

// LoggingMiddleware is the outermost wrapper: it records one RequestLog row
// per admitted-or-rejected request, including unauthenticated rejections
// (with a NULL key reference). The log is a pure observability sink; nothing
// on the admission path reads it back.
type LoggingMiddleware struct {
	logger  RequestLogger
	metrics *services.MetricsCollector
}

func NewLoggingMiddleware(logger RequestLogger, metrics *services.MetricsCollector) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger, metrics: metrics}
}

func (m *LoggingMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		meta := &requestMeta{}
		ctx := context.WithValue(r.Context(), requestMetaKey, meta)

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r.WithContext(ctx))

		durationMs := int(time.Since(start).Milliseconds())

		entry := &models.RequestLog{
			Method:         r.Method,
			Path:           r.URL.Path,
			StatusCode:     rw.statusCode,
			ErrorKind:      errorKindFromBody(rw.statusCode, rw.body.Bytes()),
			ResponseTimeMs: durationMs,
			RequestBytes:   max64(r.ContentLength, 0),
			ResponseBytes:  int64(rw.body.Len()),
			IPAddress:      clientIP(r),
			UserAgent:      r.UserAgent(),
		}

		keyLabel := ""
		if meta.apiKey != nil {
			entry.APIKeyID = &meta.apiKey.ID
			keyLabel = " [key:" + meta.apiKey.Name + "]"
		}

		level := "INFO"
		if rw.statusCode >= 500 {
			level = "ERROR"
		} else if rw.statusCode >= 400 {
			level = "WARN"
		}
		log.Printf("[%s] %s %s %d %dms%s", level, r.Method, r.URL.Path, rw.statusCode, durationMs, keyLabel)

		// The request's own context may already be canceled.
		logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.logger.LogRequest(logCtx, entry); err != nil {
			log.Printf("[WARN] Failed to log request to database: %v", err)
		}

		m.metrics.RecordRequest(durationMs, rw.statusCode)
	})
}

// errorKindFromBody pulls the machine-readable kind out of a rejection body.
func errorKindFromBody(status int, body []byte) string {
	if status < 400 || len(body) == 0 {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Error
}

func clientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}

	realIP := r.Header.Get("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func max64(v, floor int64) int64 {
	if v < floor {
		return floor
	}
	return v
}
