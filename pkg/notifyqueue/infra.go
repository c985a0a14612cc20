package notifyqueue

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trailforge/authcore/pkg/kernel"
)

// SQLRepository implements Repository against oauth_notifications.
type SQLRepository struct {
	db *sqlx.DB
}

func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

type notificationRow struct {
	ID        string       `db:"id"`
	UserID    string       `db:"user_id"`
	Provider  string       `db:"provider"`
	Success   bool         `db:"success"`
	Message   string       `db:"message"`
	ExpiresAt sql.NullTime `db:"expires_at"`
	Read      bool         `db:"read"`
	CreatedAt time.Time    `db:"created_at"`
}

func (r notificationRow) toDomain() OAuthNotification {
	n := OAuthNotification{
		ID:        r.ID,
		UserID:    kernel.NewUserID(r.UserID),
		Provider:  r.Provider,
		Success:   r.Success,
		Message:   r.Message,
		Read:      r.Read,
		CreatedAt: r.CreatedAt,
	}
	if r.ExpiresAt.Valid {
		n.ExpiresAt = &r.ExpiresAt.Time
	}
	return n
}

func (r *SQLRepository) Store(ctx context.Context, n OAuthNotification) error {
	var expiresAt interface{}
	if n.ExpiresAt != nil {
		expiresAt = *n.ExpiresAt
	}
	query := r.db.Rebind(`
		INSERT INTO oauth_notifications (id, user_id, provider, success, message, expires_at, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, n.ID, n.UserID.String(), n.Provider, n.Success, n.Message, expiresAt, n.Read, n.CreatedAt)
	return err
}

func (r *SQLRepository) GetUnread(ctx context.Context, userID kernel.UserID) ([]OAuthNotification, error) {
	return r.query(ctx, `SELECT id, user_id, provider, success, message, expires_at, read, created_at
		FROM oauth_notifications WHERE user_id = ? AND read = false ORDER BY created_at ASC`, userID.String())
}

func (r *SQLRepository) GetAll(ctx context.Context, userID kernel.UserID, limit *int) ([]OAuthNotification, error) {
	if limit != nil {
		query := r.db.Rebind(`SELECT id, user_id, provider, success, message, expires_at, read, created_at
			FROM oauth_notifications WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`)
		var rows []notificationRow
		if err := r.db.SelectContext(ctx, &rows, query, userID.String(), *limit); err != nil {
			return nil, err
		}
		return toDomainSlice(rows), nil
	}
	return r.query(ctx, `SELECT id, user_id, provider, success, message, expires_at, read, created_at
		FROM oauth_notifications WHERE user_id = ? ORDER BY created_at DESC`, userID.String())
}

func (r *SQLRepository) query(ctx context.Context, sqlStr string, args ...interface{}) ([]OAuthNotification, error) {
	query := r.db.Rebind(sqlStr)
	var rows []notificationRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return toDomainSlice(rows), nil
}

func toDomainSlice(rows []notificationRow) []OAuthNotification {
	out := make([]OAuthNotification, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out
}

func (r *SQLRepository) MarkRead(ctx context.Context, id string, userID kernel.UserID) error {
	query := r.db.Rebind(`UPDATE oauth_notifications SET read = true WHERE id = ? AND user_id = ?`)
	_, err := r.db.ExecContext(ctx, query, id, userID.String())
	return err
}

func (r *SQLRepository) MarkAllRead(ctx context.Context, userID kernel.UserID) error {
	query := r.db.Rebind(`UPDATE oauth_notifications SET read = true WHERE user_id = ?`)
	_, err := r.db.ExecContext(ctx, query, userID.String())
	return err
}
