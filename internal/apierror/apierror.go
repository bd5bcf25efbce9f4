// Package apierror defines the machine-readable error kinds the gateway
// returns on rejection, plus remediation fields clients can act on.
package apierror

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	KindInvalidAPIKey      = "invalid_api_key"
	KindQuotaExceeded      = "quota_exceeded"
	KindRateLimited        = "rate_limited"
	KindForbidden          = "forbidden"
	KindKeyLimitExceeded   = "key_limit_exceeded"
	KindNotFound           = "not_found"
	KindBadRequest         = "bad_request"
	KindServiceUnavailable = "service_unavailable"
	KindBadGateway         = "bad_gateway"
	KindGatewayTimeout     = "gateway_timeout"
)

// Response is the JSON body sent on every rejection.
type Response struct {
	Error             string     `json:"error"`
	Message           string     `json:"message,omitempty"`
	ResetAt           *time.Time `json:"reset_at,omitempty"`
	RetryAfterSeconds *float64   `json:"retry_after_seconds,omitempty"`
}

// Write sends a plain rejection with the given kind.
func Write(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, &Response{Error: kind, Message: message})
}

// WriteQuotaExceeded includes the instant the monthly quota resets.
func WriteQuotaExceeded(w http.ResponseWriter, resetAt time.Time) {
	w.Header().Set("X-Quota-Reset", resetAt.Format(time.RFC3339))
	writeJSON(w, http.StatusTooManyRequests, &Response{
		Error:   KindQuotaExceeded,
		Message: "Monthly quota exhausted.",
		ResetAt: &resetAt,
	})
}

// WriteRateLimited includes the delay after which one token is available.
func WriteRateLimited(w http.ResponseWriter, retryAfter float64) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter)+1))
	writeJSON(w, http.StatusTooManyRequests, &Response{
		Error:             KindRateLimited,
		Message:           "Rate limit exceeded. Try again later.",
		RetryAfterSeconds: &retryAfter,
	})
}

func writeJSON(w http.ResponseWriter, status int, body *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
