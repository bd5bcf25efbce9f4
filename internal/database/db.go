package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"moderation-gateway/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Sentinel outcomes of registry operations. Handlers map these to the
// wire-level error kinds.
var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrKeyLimitExceeded = errors.New("active key limit reached")
)

type DB struct {
	conn *sql.DB
}

func Connect(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("couldn't open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("database not responding: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// IsUniqueViolation reports whether err is a Postgres unique-index conflict,
// used to retry key generation on a (vanishingly rare) value collision.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (db *DB) CreateDeveloper(ctx context.Context, email, passwordHash string) (*models.Developer, error) {
	dev := &models.Developer{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}

	query := `
		INSERT INTO developers (id, email, password_hash, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := db.conn.ExecContext(ctx, query, dev.ID, dev.Email, dev.PasswordHash, dev.IsActive, dev.CreatedAt); err != nil {
		return nil, fmt.Errorf("couldn't create developer: %w", err)
	}

	return dev, nil
}

// GetDeveloper returns an active developer, or ErrNotFound.
func (db *DB) GetDeveloper(ctx context.Context, id uuid.UUID) (*models.Developer, error) {
	query := `
		SELECT id, email, password_hash, is_active, created_at
		FROM developers
		WHERE id = $1 AND is_active = true
	`

	dev := &models.Developer{}
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&dev.ID,
		&dev.Email,
		&dev.PasswordHash,
		&dev.IsActive,
		&dev.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return dev, nil
}

// DeactivateDeveloper soft-deletes the developer and every key it owns in a
// single transaction, so no orphaned active key survives the cascade.
func (db *DB) DeactivateDeveloper(ctx context.Context, id uuid.UUID) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("couldn't begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `UPDATE developers SET is_active = false WHERE id = $1 AND is_active = true`, id)
	if err != nil {
		return fmt.Errorf("couldn't deactivate developer: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `UPDATE api_keys SET is_active = false WHERE developer_id = $1`, id); err != nil {
		return fmt.Errorf("couldn't deactivate developer keys: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("couldn't commit deactivation: %w", err)
	}

	return nil
}

// CreateAPIKey inserts a key for the developer if fewer than maxKeys of its
// keys are active. The developer row is locked for the duration of the
// transaction so two concurrent creations cannot both observe a count below
// the cap and land past it.
func (db *DB) CreateAPIKey(ctx context.Context, developerID uuid.UUID, value, name string, monthlyQuota, maxKeys int) (*models.APIKey, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("couldn't begin transaction: %w", err)
	}
	defer tx.Rollback()

	var devID uuid.UUID
	err = tx.QueryRowContext(ctx, `SELECT id FROM developers WHERE id = $1 AND is_active = true FOR UPDATE`, developerID).Scan(&devID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	var active int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys WHERE developer_id = $1 AND is_active = true`, developerID).Scan(&active)
	if err != nil {
		return nil, fmt.Errorf("couldn't count active keys: %w", err)
	}
	if active >= maxKeys {
		return nil, ErrKeyLimitExceeded
	}

	apiKey := &models.APIKey{
		ID:           uuid.New(),
		DeveloperID:  developerID,
		Key:          value,
		Name:         name,
		MonthlyQuota: monthlyQuota,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}

	query := `
		INSERT INTO api_keys (id, developer_id, key, name, monthly_quota, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if _, err := tx.ExecContext(ctx, query, apiKey.ID, apiKey.DeveloperID, apiKey.Key, apiKey.Name, apiKey.MonthlyQuota, apiKey.IsActive, apiKey.CreatedAt); err != nil {
		return nil, fmt.Errorf("couldn't create API key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("couldn't commit key creation: %w", err)
	}

	return apiKey, nil
}

// GetAPIKeyByValue returns the active key with the given credential, or
// (nil, nil). Revoked and absent keys are indistinguishable to the caller.
func (db *DB) GetAPIKeyByValue(ctx context.Context, value string) (*models.APIKey, error) {
	query := `
		SELECT id, developer_id, key, name, monthly_quota, is_active, created_at
		FROM api_keys
		WHERE key = $1 AND is_active = true
	`

	apiKey := &models.APIKey{}
	err := db.conn.QueryRowContext(ctx, query, value).Scan(
		&apiKey.ID,
		&apiKey.DeveloperID,
		&apiKey.Key,
		&apiKey.Name,
		&apiKey.MonthlyQuota,
		&apiKey.IsActive,
		&apiKey.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return apiKey, nil
}

func (db *DB) ListAPIKeys(ctx context.Context, developerID uuid.UUID) ([]models.APIKey, error) {
	query := `
		SELECT id, developer_id, key, name, monthly_quota, is_active, created_at
		FROM api_keys
		WHERE developer_id = $1
		ORDER BY created_at DESC
	`

	rows, err := db.conn.QueryContext(ctx, query, developerID)
	if err != nil {
		return nil, fmt.Errorf("couldn't list API keys: %w", err)
	}
	defer rows.Close()

	var apiKeys []models.APIKey
	for rows.Next() {
		var apiKey models.APIKey
		err := rows.Scan(
			&apiKey.ID,
			&apiKey.DeveloperID,
			&apiKey.Key,
			&apiKey.Name,
			&apiKey.MonthlyQuota,
			&apiKey.IsActive,
			&apiKey.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		apiKeys = append(apiKeys, apiKey)
	}

	return apiKeys, rows.Err()
}

// RevokeAPIKey soft-deletes a key after verifying ownership. The update hits
// the same store every lookup reads, so revocation is visible to the next
// admission check with no propagation delay.
func (db *DB) RevokeAPIKey(ctx context.Context, developerID, keyID uuid.UUID) error {
	var ownerID uuid.UUID
	err := db.conn.QueryRowContext(ctx, `SELECT developer_id FROM api_keys WHERE id = $1 AND is_active = true`, keyID).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	if ownerID != developerID {
		return ErrForbidden
	}

	result, err := db.conn.ExecContext(ctx, `UPDATE api_keys SET is_active = false WHERE id = $1 AND developer_id = $2`, keyID, developerID)
	if err != nil {
		return fmt.Errorf("couldn't revoke API key: %w", err)
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

func (db *DB) CountActiveKeys(ctx context.Context, developerID uuid.UUID) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys WHERE developer_id = $1 AND is_active = true`, developerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("couldn't count active keys: %w", err)
	}
	return count, nil
}

func (db *DB) LogRequest(ctx context.Context, entry *models.RequestLog) error {
	query := `
		INSERT INTO request_logs (id, api_key_id, method, path, status_code, error_kind, response_time_ms, request_bytes, response_bytes, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	entry.ID = uuid.New()
	entry.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(
		ctx,
		query,
		entry.ID,
		entry.APIKeyID,
		entry.Method,
		entry.Path,
		entry.StatusCode,
		entry.ErrorKind,
		entry.ResponseTimeMs,
		entry.RequestBytes,
		entry.ResponseBytes,
		entry.IPAddress,
		entry.UserAgent,
		entry.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("couldn't log request: %w", err)
	}

	return nil
}
