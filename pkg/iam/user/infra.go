package user

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/trailforge/authcore/pkg/kernel"
)

// SQLRepository implements Repository against the users table.
type SQLRepository struct {
	db *sqlx.DB
}

func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

type userRow struct {
	ID           string         `db:"id"`
	Email        string         `db:"email"`
	DisplayName  sql.NullString `db:"display_name"`
	PasswordHash string         `db:"password_hash"`
	TenantID     sql.NullString `db:"tenant_id"`
	Status       string         `db:"status"`
	IsAdmin      bool           `db:"is_admin"`
	FirebaseUID  sql.NullString `db:"firebase_uid"`
	CreatedAt    time.Time      `db:"created_at"`
	LastActive   time.Time      `db:"last_active"`
}

func (r userRow) toDomain() *User {
	u := &User{
		ID:           kernel.NewUserID(r.ID),
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Status:       Status(r.Status),
		IsAdmin:      r.IsAdmin,
		CreatedAt:    r.CreatedAt,
		LastActiveAt: r.LastActive,
	}
	if r.DisplayName.Valid {
		u.DisplayName = &r.DisplayName.String
	}
	if r.TenantID.Valid {
		tid := kernel.NewTenantID(r.TenantID.String)
		u.TenantID = &tid
	}
	if r.FirebaseUID.Valid {
		u.FirebaseUID = &r.FirebaseUID.String
	}
	return u
}

func (r *SQLRepository) FindByID(ctx context.Context, id kernel.UserID) (*User, error) {
	query := r.db.Rebind(`SELECT id, email, display_name, password_hash, tenant_id, status, is_admin, firebase_uid, created_at, last_active FROM users WHERE id = ?`)
	var row userRow
	if err := r.db.GetContext(ctx, &row, query, id.String()); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// FindByEmail expects email already case-folded by the caller (Service does
// this via NormalizeEmail).
func (r *SQLRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := r.db.Rebind(`SELECT id, email, display_name, password_hash, tenant_id, status, is_admin, firebase_uid, created_at, last_active FROM users WHERE email = ?`)
	var row userRow
	if err := r.db.GetContext(ctx, &row, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *SQLRepository) Save(ctx context.Context, u User) error {
	var tenantID, displayName, firebaseUID interface{}
	if u.TenantID != nil {
		tenantID = u.TenantID.String()
	}
	if u.DisplayName != nil {
		displayName = *u.DisplayName
	}
	if u.FirebaseUID != nil {
		firebaseUID = *u.FirebaseUID
	}

	query := r.db.Rebind(`
		INSERT INTO users (id, email, display_name, password_hash, tenant_id, status, is_admin, firebase_uid, created_at, last_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			password_hash = EXCLUDED.password_hash,
			tenant_id = EXCLUDED.tenant_id,
			status = EXCLUDED.status,
			is_admin = EXCLUDED.is_admin,
			firebase_uid = EXCLUDED.firebase_uid,
			last_active = EXCLUDED.last_active`)

	_, err := r.db.ExecContext(ctx, query,
		u.ID.String(), u.Email, displayName, u.PasswordHash, tenantID,
		string(u.Status), u.IsAdmin, firebaseUID, u.CreatedAt, u.LastActiveAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrEmailTaken()
		}
		return err
	}
	return nil
}

func (r *SQLRepository) Touch(ctx context.Context, id kernel.UserID) error {
	query := r.db.Rebind(`UPDATE users SET last_active = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id.String())
	return err
}

func (r *SQLRepository) UpdateStatus(ctx context.Context, id kernel.UserID, status Status) error {
	query := r.db.Rebind(`UPDATE users SET status = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query, string(status), id.String())
	return err
}

func (r *SQLRepository) UpdatePasswordHash(ctx context.Context, id kernel.UserID, hash string) error {
	query := r.db.Rebind(`UPDATE users SET password_hash = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query, hash, id.String())
	return err
}
