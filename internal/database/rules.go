package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"moderation-gateway/internal/models"

	"github.com/google/uuid"
)

func (db *DB) CreateRule(ctx context.Context, apiKeyID uuid.UUID, name, pattern, action string) (*models.ModerationRule, error) {
	rule := &models.ModerationRule{
		ID:        uuid.New(),
		APIKeyID:  apiKeyID,
		Name:      name,
		Pattern:   pattern,
		Action:    action,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO moderation_rules (id, api_key_id, name, pattern, action, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if _, err := db.conn.ExecContext(ctx, query, rule.ID, rule.APIKeyID, rule.Name, rule.Pattern, rule.Action, rule.IsActive, rule.CreatedAt); err != nil {
		return nil, fmt.Errorf("couldn't create rule: %w", err)
	}

	return rule, nil
}

func (db *DB) GetRule(ctx context.Context, id uuid.UUID) (*models.ModerationRule, error) {
	query := `
		SELECT id, api_key_id, name, pattern, action, is_active, created_at
		FROM moderation_rules
		WHERE id = $1 AND is_active = true
	`

	rule := &models.ModerationRule{}
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&rule.ID,
		&rule.APIKeyID,
		&rule.Name,
		&rule.Pattern,
		&rule.Action,
		&rule.IsActive,
		&rule.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return rule, nil
}

func (db *DB) ListRules(ctx context.Context, apiKeyID uuid.UUID) ([]models.ModerationRule, error) {
	query := `
		SELECT id, api_key_id, name, pattern, action, is_active, created_at
		FROM moderation_rules
		WHERE api_key_id = $1 AND is_active = true
		ORDER BY created_at DESC
	`

	rows, err := db.conn.QueryContext(ctx, query, apiKeyID)
	if err != nil {
		return nil, fmt.Errorf("couldn't list rules: %w", err)
	}
	defer rows.Close()

	var rules []models.ModerationRule
	for rows.Next() {
		var rule models.ModerationRule
		err := rows.Scan(
			&rule.ID,
			&rule.APIKeyID,
			&rule.Name,
			&rule.Pattern,
			&rule.Action,
			&rule.IsActive,
			&rule.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func (db *DB) UpdateRule(ctx context.Context, rule *models.ModerationRule) error {
	query := `
		UPDATE moderation_rules
		SET name = $2, pattern = $3, action = $4
		WHERE id = $1 AND is_active = true
	`

	result, err := db.conn.ExecContext(ctx, query, rule.ID, rule.Name, rule.Pattern, rule.Action)
	if err != nil {
		return fmt.Errorf("couldn't update rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (db *DB) DeleteRule(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE moderation_rules SET is_active = false WHERE id = $1 AND is_active = true`

	result, err := db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("couldn't delete rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}
