package apikeyinfra

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/iam/apikey"
	"github.com/trailforge/authcore/pkg/kernel"
)

// SQLRepository is the sqlx-backed implementation of apikey.Repository,
// driver-agnostic via sqlx.DB.Rebind.
type SQLRepository struct {
	db *sqlx.DB
}

func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// apiKeyPersistence handles the DB-specific nullable columns.
type apiKeyPersistence struct {
	ID                     string         `db:"id"`
	UserID                 string         `db:"user_id"`
	Name                   string         `db:"name"`
	KeyPrefix              string         `db:"key_prefix"`
	KeyHash                string         `db:"key_hash"`
	Description            sql.NullString `db:"description"`
	Tier                   string         `db:"tier"`
	RateLimitRequests      int            `db:"rate_limit_requests"`
	RateLimitWindowSeconds int            `db:"rate_limit_window_seconds"`
	IsActive               bool           `db:"is_active"`
	ExpiresAt              *time.Time     `db:"expires_at"`
	LastUsedAt             *time.Time     `db:"last_used_at"`
	CreatedAt              time.Time      `db:"created_at"`
	UpdatedAt              time.Time      `db:"updated_at"`
}

func toPersistence(key apikey.APIKey) apiKeyPersistence {
	p := apiKeyPersistence{
		ID:                     key.ID.String(),
		UserID:                 key.UserID.String(),
		Name:                   key.Name,
		KeyPrefix:              key.KeyPrefix,
		KeyHash:                key.KeyHash,
		Tier:                   string(key.Tier),
		RateLimitRequests:      key.RateLimitRequests,
		RateLimitWindowSeconds: key.RateLimitWindowSeconds,
		IsActive:               key.IsActive,
		ExpiresAt:              key.ExpiresAt,
		LastUsedAt:             key.LastUsedAt,
		CreatedAt:              key.CreatedAt,
		UpdatedAt:              key.UpdatedAt,
	}
	if key.Description != nil {
		p.Description = sql.NullString{String: *key.Description, Valid: true}
	}
	return p
}

func toDomain(p apiKeyPersistence) apikey.APIKey {
	k := apikey.APIKey{
		ID:                     kernel.NewAPIKeyID(p.ID),
		UserID:                 kernel.NewUserID(p.UserID),
		Name:                   p.Name,
		KeyPrefix:              p.KeyPrefix,
		KeyHash:                p.KeyHash,
		Tier:                   apikey.Tier(p.Tier),
		RateLimitRequests:      p.RateLimitRequests,
		RateLimitWindowSeconds: p.RateLimitWindowSeconds,
		IsActive:               p.IsActive,
		ExpiresAt:              p.ExpiresAt,
		LastUsedAt:             p.LastUsedAt,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}
	if p.Description.Valid {
		k.Description = &p.Description.String
	}
	return k
}

const selectColumns = `id, user_id, name, key_prefix, key_hash, description, tier, rate_limit_requests, rate_limit_window_seconds, is_active, expires_at, last_used_at, created_at, updated_at`

func (r *SQLRepository) Save(ctx context.Context, key apikey.APIKey) error {
	p := toPersistence(key)
	query := r.db.Rebind(`
		INSERT INTO api_keys (` + selectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			is_active = EXCLUDED.is_active,
			expires_at = EXCLUDED.expires_at,
			last_used_at = EXCLUDED.last_used_at,
			updated_at = EXCLUDED.updated_at`)

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.Name, p.KeyPrefix, p.KeyHash, p.Description, p.Tier,
		p.RateLimitRequests, p.RateLimitWindowSeconds, p.IsActive, p.ExpiresAt,
		p.LastUsedAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return apikey.ErrNameConflict()
		}
		return errx.Wrap(err, "failed to save API key", errx.TypeInternal)
	}
	return nil
}

func (r *SQLRepository) FindByID(ctx context.Context, id kernel.APIKeyID) (*apikey.APIKey, error) {
	query := r.db.Rebind(`SELECT ` + selectColumns + ` FROM api_keys WHERE id = ?`)
	var p apiKeyPersistence
	if err := r.db.GetContext(ctx, &p, query, id.String()); err != nil {
		if err == sql.ErrNoRows {
			return nil, apikey.ErrNotFound()
		}
		return nil, errx.Wrap(err, "failed to find API key by id", errx.TypeInternal)
	}
	k := toDomain(p)
	return &k, nil
}

func (r *SQLRepository) FindByPrefixAndHash(ctx context.Context, prefix, hash string) (*apikey.APIKey, error) {
	query := r.db.Rebind(`SELECT ` + selectColumns + ` FROM api_keys WHERE key_prefix = ? AND key_hash = ?`)
	var p apiKeyPersistence
	if err := r.db.GetContext(ctx, &p, query, prefix, hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, apikey.ErrNotFound()
		}
		return nil, errx.Wrap(err, "failed to find API key by prefix/hash", errx.TypeInternal)
	}
	k := toDomain(p)
	return &k, nil
}

func (r *SQLRepository) FindByUser(ctx context.Context, userID kernel.UserID) ([]apikey.APIKey, error) {
	query := r.db.Rebind(`SELECT ` + selectColumns + ` FROM api_keys WHERE user_id = ? ORDER BY created_at DESC`)
	var rows []apiKeyPersistence
	if err := r.db.SelectContext(ctx, &rows, query, userID.String()); err != nil {
		return nil, errx.Wrap(err, "failed to list API keys for user", errx.TypeInternal)
	}
	out := make([]apikey.APIKey, 0, len(rows))
	for _, p := range rows {
		out = append(out, toDomain(p))
	}
	return out, nil
}

func (r *SQLRepository) Deactivate(ctx context.Context, id kernel.APIKeyID) error {
	query := r.db.Rebind(`UPDATE api_keys SET is_active = false, updated_at = ? WHERE id = ?`)
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id.String())
	if err != nil {
		return errx.Wrap(err, "failed to revoke API key", errx.TypeInternal)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to confirm revoke", errx.TypeInternal)
	}
	if rows == 0 {
		return apikey.ErrNotFound()
	}
	return nil
}

func (r *SQLRepository) UpdateLastUsed(ctx context.Context, id kernel.APIKeyID, when time.Time) error {
	query := r.db.Rebind(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query, when, id.String())
	if err != nil {
		return errx.Wrap(err, "failed to update last_used_at", errx.TypeInternal)
	}
	return nil
}

// SQLUsageRepository implements apikey.UsageRepository against api_key_usage.
type SQLUsageRepository struct {
	db *sqlx.DB
}

func NewSQLUsageRepository(db *sqlx.DB) *SQLUsageRepository {
	return &SQLUsageRepository{db: db}
}

func (r *SQLUsageRepository) Record(ctx context.Context, usage apikey.Usage) error {
	query := r.db.Rebind(`
		INSERT INTO api_key_usage (id, api_key_id, occurred_at, tool_name, status_code, response_time_ms, ip, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		usage.ID, usage.APIKeyID.String(), usage.OccurredAt, usage.ToolName,
		usage.StatusCode, usage.ResponseTimeMS, usage.IP, usage.UserAgent)
	if err != nil {
		return errx.Wrap(err, "failed to record API key usage", errx.TypeInternal)
	}
	return nil
}

func (r *SQLUsageRepository) CountSince(ctx context.Context, apiKeyID kernel.APIKeyID, windowStart time.Time) (int, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM api_key_usage WHERE api_key_id = ? AND occurred_at >= ?`)
	var count int
	if err := r.db.GetContext(ctx, &count, query, apiKeyID.String(), windowStart); err != nil {
		return 0, errx.Wrap(err, "failed to count API key usage", errx.TypeInternal)
	}
	return count, nil
}
