package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"moderation-gateway/internal/models"

	"github.com/google/uuid"
)

// CheckAndIncrementQuota admits one request against the key's monthly limit.
// The usage row is created lazily (ON CONFLICT resolves creation races to
// "use the existing row"), then a single conditional UPDATE tests and
// increments in one statement. Two gateway instances can never both admit
// the final slot: the predicate runs inside the same statement as the
// increment, and the affected-row count says which side of the limit we
// landed on.
func (db *DB) CheckAndIncrementQuota(ctx context.Context, apiKeyID uuid.UUID, periodKey string, limit int) (bool, error) {
	ensure := `
		INSERT INTO quota_usage (api_key_id, period_key, requests_used, last_reset)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (api_key_id, period_key) DO NOTHING
	`

	if _, err := db.conn.ExecContext(ctx, ensure, apiKeyID, periodKey, time.Now().UTC()); err != nil {
		return false, fmt.Errorf("couldn't ensure quota row: %w", err)
	}

	increment := `
		UPDATE quota_usage
		SET requests_used = requests_used + 1
		WHERE api_key_id = $1 AND period_key = $2 AND requests_used < $3
	`

	result, err := db.conn.ExecContext(ctx, increment, apiKeyID, periodKey, limit)
	if err != nil {
		return false, fmt.Errorf("couldn't increment quota: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// GetQuotaUsage returns the usage row for the period, or (nil, nil) if the
// key has not made a request this period yet.
func (db *DB) GetQuotaUsage(ctx context.Context, apiKeyID uuid.UUID, periodKey string) (*models.QuotaUsage, error) {
	query := `
		SELECT api_key_id, period_key, requests_used, last_reset
		FROM quota_usage
		WHERE api_key_id = $1 AND period_key = $2
	`

	usage := &models.QuotaUsage{}
	err := db.conn.QueryRowContext(ctx, query, apiKeyID, periodKey).Scan(
		&usage.APIKeyID,
		&usage.PeriodKey,
		&usage.RequestsUsed,
		&usage.LastReset,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return usage, nil
}

// ResetPeriod zeroes every usage row in the period. Idempotent: a second run
// matches no rows with requests_used > 0 and changes nothing.
func (db *DB) ResetPeriod(ctx context.Context, periodKey string) (int64, error) {
	query := `
		UPDATE quota_usage
		SET requests_used = 0, last_reset = $2
		WHERE period_key = $1 AND requests_used > 0
	`

	result, err := db.conn.ExecContext(ctx, query, periodKey, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("couldn't reset period: %w", err)
	}

	return result.RowsAffected()
}
