package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"moderation-gateway/internal/apierror"
	"moderation-gateway/internal/database"
	"moderation-gateway/internal/middleware"
	"moderation-gateway/internal/models"

	"github.com/google/uuid"
)

// RuleStore is the slice of the store the rules surface needs.
type RuleStore interface {
	CreateRule(ctx context.Context, apiKeyID uuid.UUID, name, pattern, action string) (*models.ModerationRule, error)
	GetRule(ctx context.Context, id uuid.UUID) (*models.ModerationRule, error)
	ListRules(ctx context.Context, apiKeyID uuid.UUID) ([]models.ModerationRule, error)
	UpdateRule(ctx context.Context, rule *models.ModerationRule) error
	DeleteRule(ctx context.Context, id uuid.UUID) error
}

var ruleActions = map[string]bool{"flag": true, "block": true, "allow": true}

// RulesHandler serves per-key moderation rule CRUD. It runs behind the full
// admission chain; on top of that, every id-scoped operation verifies the
// rule belongs to the authenticated key before touching it.
type RulesHandler struct {
	store RuleStore
}

func NewRulesHandler(store RuleStore) *RulesHandler {
	return &RulesHandler{store: store}
}

type RuleRequest struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Action  string `json:"action"`
}

func (h *RulesHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	apiKey := middleware.GetAPIKeyFromContext(r.Context())
	if apiKey == nil {
		apierror.Write(w, http.StatusUnauthorized, apierror.KindInvalidAPIKey, "Invalid API key")
		return
	}

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.KindBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" || req.Pattern == "" {
		apierror.Write(w, http.StatusBadRequest, apierror.KindBadRequest, "Name and pattern are required")
		return
	}
	if !ruleActions[req.Action] {
		apierror.Write(w, http.StatusBadRequest, apierror.KindBadRequest, "Action must be flag, block or allow")
		return
	}

	rule, err := h.store.CreateRule(r.Context(), apiKey.ID, req.Name, req.Pattern, req.Action)
	if err != nil {
		log.Printf("[ERROR] Failed to create rule: %v", err)
		apierror.Write(w, http.StatusServiceUnavailable, apierror.KindServiceUnavailable, "Temporarily unavailable")
		return
	}

	log.Printf("[INFO] Created rule %s for key %s", rule.ID, apiKey.Name)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rule)
}

func (h *RulesHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	apiKey := middleware.GetAPIKeyFromContext(r.Context())
	if apiKey == nil {
		apierror.Write(w, http.StatusUnauthorized, apierror.KindInvalidAPIKey, "Invalid API key")
		return
	}

	rules, err := h.store.ListRules(r.Context(), apiKey.ID)
	if err != nil {
		log.Printf("[ERROR] Failed to list rules: %v", err)
		apierror.Write(w, http.StatusServiceUnavailable, apierror.KindServiceUnavailable, "Temporarily unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rules)
}

// ownedRule loads the rule and enforces that it belongs to the caller's key.
func (h *RulesHandler) ownedRule(w http.ResponseWriter, r *http.Request) *models.ModerationRule {
	apiKey := middleware.GetAPIKeyFromContext(r.Context())
	if apiKey == nil {
		apierror.Write(w, http.StatusUnauthorized, apierror.KindInvalidAPIKey, "Invalid API key")
		return nil
	}

	id, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.KindBadRequest, "Invalid rule id")
		return nil
	}

	rule, err := h.store.GetRule(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			apierror.Write(w, http.StatusNotFound, apierror.KindNotFound, "Rule not found")
			return nil
		}
		log.Printf("[ERROR] Failed to load rule: %v", err)
		apierror.Write(w, http.StatusServiceUnavailable, apierror.KindServiceUnavailable, "Temporarily unavailable")
		return nil
	}

	if rule.APIKeyID != apiKey.ID {
		log.Printf("[WARN] Key %s attempted access to foreign rule %s", apiKey.Name, rule.ID)
		apierror.Write(w, http.StatusForbidden, apierror.KindForbidden, "Rule belongs to another API key")
		return nil
	}

	return rule
}

func (h *RulesHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule := h.ownedRule(w, r)
	if rule == nil {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rule)
}

func (h *RulesHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	rule := h.ownedRule(w, r)
	if rule == nil {
		return
	}

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.KindBadRequest, "Invalid request body")
		return
	}

	if req.Name != "" {
		rule.Name = req.Name
	}
	if req.Pattern != "" {
		rule.Pattern = req.Pattern
	}
	if req.Action != "" {
		if !ruleActions[req.Action] {
			apierror.Write(w, http.StatusBadRequest, apierror.KindBadRequest, "Action must be flag, block or allow")
			return
		}
		rule.Action = req.Action
	}

	if err := h.store.UpdateRule(r.Context(), rule); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			apierror.Write(w, http.StatusNotFound, apierror.KindNotFound, "Rule not found")
			return
		}
		log.Printf("[ERROR] Failed to update rule: %v", err)
		apierror.Write(w, http.StatusServiceUnavailable, apierror.KindServiceUnavailable, "Temporarily unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rule)
}

func (h *RulesHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	rule := h.ownedRule(w, r)
	if rule == nil {
		return
	}

	if err := h.store.DeleteRule(r.Context(), rule.ID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			apierror.Write(w, http.StatusNotFound, apierror.KindNotFound, "Rule not found")
			return
		}
		log.Printf("[ERROR] Failed to delete rule: %v", err)
		apierror.Write(w, http.StatusServiceUnavailable, apierror.KindServiceUnavailable, "Temporarily unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Rule deleted"})
}
