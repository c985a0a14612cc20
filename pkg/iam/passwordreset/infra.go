package passwordreset

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/trailforge/authcore/pkg/kernel"
)

// SQLRepository implements Repository against password_reset_tokens.
type SQLRepository struct {
	db *sqlx.DB
}

func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) StoreToken(ctx context.Context, userID kernel.UserID, tokenHash, createdBy string) error {
	query := r.db.Rebind(`
		INSERT INTO password_reset_tokens (id, user_id, token_hash, created_at, created_by)
		VALUES (?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query, uuid.NewString(), userID.String(), tokenHash, time.Now().UTC(), createdBy)
	return err
}

// ConsumeToken is the single atomic compare-and-set redemption: the UPDATE
// only matches a row that is unconsumed and was created within maxAge of
// now, so a stale or already-used token leaves nothing to update and this
// returns sql.ErrNoRows.
func (r *SQLRepository) ConsumeToken(ctx context.Context, tokenHash string, maxAge time.Duration, now time.Time) (kernel.UserID, error) {
	query := r.db.Rebind(`
		UPDATE password_reset_tokens
		SET consumed_at = ?
		WHERE token_hash = ? AND consumed_at IS NULL AND created_at > ?
		RETURNING user_id`)

	var userID string
	cutoff := now.Add(-maxAge)
	if err := r.db.GetContext(ctx, &userID, query, now, tokenHash, cutoff); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrTokenNotFound()
		}
		return "", err
	}
	return kernel.NewUserID(userID), nil
}

func (r *SQLRepository) InvalidateUserTokens(ctx context.Context, userID kernel.UserID) error {
	query := r.db.Rebind(`
		UPDATE password_reset_tokens
		SET consumed_at = ?
		WHERE user_id = ? AND consumed_at IS NULL`)

	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), userID.String())
	return err
}
