package models

import (
	"time"

	"github.com/google/uuid"
)

// Developer owns API keys. Deactivation cascades to the keys.
type Developer struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// APIKey represents an API key for authentication
type APIKey struct {
	ID           uuid.UUID `json:"id"`
	DeveloperID  uuid.UUID `json:"developer_id"`
	Key          string    `json:"key,omitempty"`
	Name         string    `json:"name"`
	MonthlyQuota int       `json:"monthly_quota"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// QuotaUsage is one row per (key, calendar month). requests_used never
// passes monthly_quota; the conditional increment in the store enforces it.
type QuotaUsage struct {
	APIKeyID     uuid.UUID `json:"api_key_id"`
	PeriodKey    string    `json:"period_key"`
	RequestsUsed int       `json:"requests_used"`
	LastReset    time.Time `json:"last_reset"`
}

// ModerationRule is a per-key moderation configuration entry.
type ModerationRule struct {
	ID        uuid.UUID `json:"id"`
	APIKeyID  uuid.UUID `json:"api_key_id"`
	Name      string    `json:"name"`
	Pattern   string    `json:"pattern"`
	Action    string    `json:"action"` // "flag", "block", "allow"
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// RequestLog represents a logged HTTP request
type RequestLog struct {
	ID             uuid.UUID  `json:"id"`
	APIKeyID       *uuid.UUID `json:"api_key_id,omitempty"` // Nullable for unauthenticated requests
	Method         string     `json:"method"`
	Path           string     `json:"path"`
	StatusCode     int        `json:"status_code"`
	ErrorKind      string     `json:"error_kind,omitempty"`
	ResponseTimeMs int        `json:"response_time_ms"`
	RequestBytes   int64      `json:"request_bytes"`
	ResponseBytes  int64      `json:"response_bytes"`
	IPAddress      string     `json:"ip_address"`
	UserAgent      string     `json:"user_agent"`
	CreatedAt      time.Time  `json:"created_at"`
}
