package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"regexp"
	"strings"

	"moderation-gateway/internal/apierror"
	"moderation-gateway/internal/database"
	"moderation-gateway/internal/models"

	"github.com/google/uuid"
)

// AdminStore is the slice of the store the ops surface needs.
type AdminStore interface {
	CreateDeveloper(ctx context.Context, email, passwordHash string) (*models.Developer, error)
	DeactivateDeveloper(ctx context.Context, id uuid.UUID) error
	ResetPeriod(ctx context.Context, periodKey string) (int64, error)
}

var periodKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// AdminHandler serves the ops endpoints the portal backend calls: developer
// lifecycle and the monthly quota reset.
type AdminHandler struct {
	store AdminStore
}

func NewAdminHandler(store AdminStore) *AdminHandler {
	return &AdminHandler{store: store}
}

type CreateDeveloperRequest struct {
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
}

func (h *AdminHandler) CreateDeveloper(w http.ResponseWriter, r *http.Request) {
	var req CreateDeveloperRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.KindBadRequest, "Invalid request body")
		return
	}

	if req.Email == "" || !strings.Contains(req.Email, "@") {
		apierror.Write(w, http.StatusBadRequest, apierror.KindBadRequest, "A valid email is required")
		return
	}

	dev, err := h.store.CreateDeveloper(r.Context(), req.Email, req.PasswordHash)
	if err != nil {
		if database.IsUniqueViolation(err) {
			apierror.Write(w, http.StatusConflict, apierror.KindBadRequest, "Email already registered")
			return
		}
		log.Printf("[ERROR] Failed to create developer: %v", err)
		apierror.Write(w, http.StatusServiceUnavailable, apierror.KindServiceUnavailable, "Temporarily unavailable")
		return
	}

	log.Printf("[INFO] Created developer %s (%s)", dev.ID, dev.Email)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(dev)
}

// DeactivateDeveloper soft-deletes the developer; the cascade revokes every
// key it owns in the same transaction.
func (h *AdminHandler) DeactivateDeveloper(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.KindBadRequest, "Invalid developer id")
		return
	}

	if err := h.store.DeactivateDeveloper(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			apierror.Write(w, http.StatusNotFound, apierror.KindNotFound, "Developer not found")
			return
		}
		log.Printf("[ERROR] Failed to deactivate developer: %v", err)
		apierror.Write(w, http.StatusServiceUnavailable, apierror.KindServiceUnavailable, "Temporarily unavailable")
		return
	}

	log.Printf("[INFO] Deactivated developer %s and cascaded to keys", id)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Developer deactivated"})
}

// ResetPeriod zeroes all usage counters for one calendar month. Safe to run
// repeatedly; the second run is a no-op.
func (h *AdminHandler) ResetPeriod(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if !periodKeyPattern.MatchString(period) {
		apierror.Write(w, http.StatusBadRequest, apierror.KindBadRequest, "Period must look like 2026-03")
		return
	}

	affected, err := h.store.ResetPeriod(r.Context(), period)
	if err != nil {
		log.Printf("[ERROR] Failed to reset period %s: %v", period, err)
		apierror.Write(w, http.StatusServiceUnavailable, apierror.KindServiceUnavailable, "Temporarily unavailable")
		return
	}

	log.Printf("[INFO] Reset quota period %s (%d rows)", period, affected)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"message": "Period reset", "rows_reset": affected})
}
