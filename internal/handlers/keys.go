package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"moderation-gateway/internal/apierror"
	"moderation-gateway/internal/database"
	"moderation-gateway/internal/keys"
	"moderation-gateway/internal/middleware"
	"moderation-gateway/internal/models"
	"moderation-gateway/internal/quota"

	"github.com/google/uuid"
)

// KeyRegistry is the slice of the store the key-management surface needs.
type KeyRegistry interface {
	GetDeveloper(ctx context.Context, id uuid.UUID) (*models.Developer, error)
	CreateAPIKey(ctx context.Context, developerID uuid.UUID, value, name string, monthlyQuota, maxKeys int) (*models.APIKey, error)
	ListAPIKeys(ctx context.Context, developerID uuid.UUID) ([]models.APIKey, error)
	CountActiveKeys(ctx context.Context, developerID uuid.UUID) (int, error)
	RevokeAPIKey(ctx context.Context, developerID, keyID uuid.UUID) error
}

// QuotaReader serves the read-only usage endpoint.
type QuotaReader interface {
	GetQuotaUsage(ctx context.Context, apiKeyID uuid.UUID, periodKey string) (*models.QuotaUsage, error)
}

// KeysHandler serves the developer key-management surface. Developer
// identity arrives in the X-Developer-ID header, set by the portal's auth
// layer in front of this service.
type KeysHandler struct {
	registry     KeyRegistry
	usage        QuotaReader
	format       *keys.Format
	defaultQuota int
	maxKeys      int
	now          func() time.Time
}

func NewKeysHandler(registry KeyRegistry, usage QuotaReader, format *keys.Format, defaultQuota, maxKeys int) *KeysHandler {
	return &KeysHandler{
		registry:     registry,
		usage:        usage,
		format:       format,
		defaultQuota: defaultQuota,
		maxKeys:      maxKeys,
		now:          time.Now,
	}
}

func developerID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get("X-Developer-ID"))
	return id, err == nil
}

type CreateAPIKeyRequest struct {
	Name         string `json:"name"`
	MonthlyQuota int    `json:"monthly_quota"`
}

func (h *KeysHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	devID, ok := developerID(r)
	if !ok {
		apierror.Write(w, http.StatusUnauthorized, apierror.KindInvalidAPIKey, "Missing or malformed X-Developer-ID header")
		return
	}

	if _, err := h.registry.GetDeveloper(r.Context(), devID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			apierror.Write(w, http.StatusUnauthorized, apierror.KindInvalidAPIKey, "Unknown developer")
			return
		}
		log.Printf("[ERROR] Failed to load developer: %v", err)
		apierror.Write(w, http.StatusServiceUnavailable, apierror.KindServiceUnavailable, "Temporarily unavailable")
		return
	}

	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.KindBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" {
		apierror.Write(w, http.StatusBadRequest, apierror.KindBadRequest, "Name is required")
		return
	}
	if req.MonthlyQuota <= 0 {
		req.MonthlyQuota = h.defaultQuota
	}

	apiKey, err := h.createWithFreshValue(r.Context(), devID, req)
	if err != nil {
		if errors.Is(err, database.ErrKeyLimitExceeded) {
			log.Printf("[WARN] Key limit reached for developer %s", devID)
			apierror.Write(w, http.StatusConflict, apierror.KindKeyLimitExceeded, "Active key limit reached. Revoke a key before creating another.")
			return
		}
		if errors.Is(err, database.ErrNotFound) {
			apierror.Write(w, http.StatusUnauthorized, apierror.KindInvalidAPIKey, "Unknown developer")
			return
		}
		log.Printf("[ERROR] Failed to create API key: %v", err)
		apierror.Write(w, http.StatusServiceUnavailable, apierror.KindServiceUnavailable, "Temporarily unavailable")
		return
	}

	log.Printf("[INFO] Created API key %s (%s) for developer %s", apiKey.Name, keys.Redact(apiKey.Key), devID)

	// The full credential is shown exactly once, here.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(apiKey)
}

// createWithFreshValue retries generation on a credential collision, which
// the store's unique index reports.
func (h *KeysHandler) createWithFreshValue(ctx context.Context, devID uuid.UUID, req CreateAPIKeyRequest) (*models.APIKey, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		value, err := h.format.Generate(h.now())
		if err != nil {
			return nil, err
		}

		apiKey, err := h.registry.CreateAPIKey(ctx, devID, value, req.Name, req.MonthlyQuota, h.maxKeys)
		if err == nil {
			return apiKey, nil
		}
		if !database.IsUniqueViolation(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// KeyListResponse includes the developer's position against the key cap.
type KeyListResponse struct {
	Keys       []models.APIKey `json:"keys"`
	ActiveKeys int             `json:"active_keys"`
	MaxKeys    int             `json:"max_keys"`
}

func (h *KeysHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	devID, ok := developerID(r)
	if !ok {
		apierror.Write(w, http.StatusUnauthorized, apierror.KindInvalidAPIKey, "Missing or malformed X-Developer-ID header")
		return
	}

	list, err := h.registry.ListAPIKeys(r.Context(), devID)
	if err != nil {
		log.Printf("[ERROR] Failed to list API keys: %v", err)
		apierror.Write(w, http.StatusServiceUnavailable, apierror.KindServiceUnavailable, "Temporarily unavailable")
		return
	}

	active, err := h.registry.CountActiveKeys(r.Context(), devID)
	if err != nil {
		log.Printf("[ERROR] Failed to count active API keys: %v", err)
		apierror.Write(w, http.StatusServiceUnavailable, apierror.KindServiceUnavailable, "Temporarily unavailable")
		return
	}

	for i := range list {
		list[i].Key = keys.Redact(list[i].Key)
	}
	if list == nil {
		list = []models.APIKey{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&KeyListResponse{Keys: list, ActiveKeys: active, MaxKeys: h.maxKeys})
}

func (h *KeysHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	devID, ok := developerID(r)
	if !ok {
		apierror.Write(w, http.StatusUnauthorized, apierror.KindInvalidAPIKey, "Missing or malformed X-Developer-ID header")
		return
	}

	keyID, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.KindBadRequest, "Invalid key id")
		return
	}

	if err := h.registry.RevokeAPIKey(r.Context(), devID, keyID); err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			apierror.Write(w, http.StatusNotFound, apierror.KindNotFound, "API key not found")
		case errors.Is(err, database.ErrForbidden):
			log.Printf("[WARN] Developer %s tried to revoke foreign key %s", devID, keyID)
			apierror.Write(w, http.StatusForbidden, apierror.KindForbidden, "Key belongs to another developer")
		default:
			log.Printf("[ERROR] Failed to revoke API key: %v", err)
			apierror.Write(w, http.StatusServiceUnavailable, apierror.KindServiceUnavailable, "Temporarily unavailable")
		}
		return
	}

	log.Printf("[INFO] Revoked API key %s for developer %s", keyID, devID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "API key revoked"})
}

// UsageResponse reports the authenticated key's quota position this month.
type UsageResponse struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Usage serves GET /v1/usage for the authenticated key. Read-only: it does
// not consume quota or rate budget.
func (h *KeysHandler) Usage(w http.ResponseWriter, r *http.Request) {
	apiKey := middleware.GetAPIKeyFromContext(r.Context())
	if apiKey == nil {
		apierror.Write(w, http.StatusUnauthorized, apierror.KindInvalidAPIKey, "Invalid API key")
		return
	}

	now := h.now()
	usage, err := h.usage.GetQuotaUsage(r.Context(), apiKey.ID, quota.PeriodKey(now))
	if err != nil {
		log.Printf("[ERROR] Failed to read quota usage: %v", err)
		apierror.Write(w, http.StatusServiceUnavailable, apierror.KindServiceUnavailable, "Temporarily unavailable")
		return
	}

	used := 0
	if usage != nil {
		used = usage.RequestsUsed
	}

	resp := &UsageResponse{
		Used:      used,
		Limit:     apiKey.MonthlyQuota,
		Remaining: apiKey.MonthlyQuota - used,
		ResetAt:   quota.ResetAt(now),
	}
	if resp.Remaining < 0 {
		resp.Remaining = 0
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
