package auth

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trailforge/authcore/pkg/kernel"
)

// SQLTokenRepository implements TokenRepository against
// session_refresh_tokens.
type SQLTokenRepository struct {
	db *sqlx.DB
}

func NewSQLTokenRepository(db *sqlx.DB) *SQLTokenRepository {
	return &SQLTokenRepository{db: db}
}

type refreshTokenRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	TenantID  string    `db:"tenant_id"`
	ExpiresAt time.Time `db:"expires_at"`
	IsRevoked bool      `db:"is_revoked"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *SQLTokenRepository) SaveRefreshToken(ctx context.Context, token RefreshToken) error {
	query := r.db.Rebind(`
		INSERT INTO session_refresh_tokens (id, token_hash, user_id, tenant_id, expires_at, is_revoked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, token.ID, token.TokenHash, token.UserID.String(), token.TenantID.String(), token.ExpiresAt, token.IsRevoked, token.CreatedAt)
	return err
}

func (r *SQLTokenRepository) FindRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	query := r.db.Rebind(`
		SELECT id, user_id, tenant_id, expires_at, is_revoked, created_at
		FROM session_refresh_tokens WHERE token_hash = ?`)

	var row refreshTokenRow
	if err := r.db.GetContext(ctx, &row, query, tokenHash); err != nil {
		return nil, err
	}

	return &RefreshToken{
		ID:        row.ID,
		TokenHash: tokenHash,
		UserID:    kernel.NewUserID(row.UserID),
		TenantID:  kernel.NewTenantID(row.TenantID),
		ExpiresAt: row.ExpiresAt,
		IsRevoked: row.IsRevoked,
		CreatedAt: row.CreatedAt,
	}, nil
}

func (r *SQLTokenRepository) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	query := r.db.Rebind(`UPDATE session_refresh_tokens SET is_revoked = true WHERE token_hash = ?`)
	_, err := r.db.ExecContext(ctx, query, tokenHash)
	return err
}

func (r *SQLTokenRepository) RevokeAllUserTokens(ctx context.Context, userID kernel.UserID) error {
	query := r.db.Rebind(`UPDATE session_refresh_tokens SET is_revoked = true WHERE user_id = ?`)
	_, err := r.db.ExecContext(ctx, query, userID.String())
	return err
}
