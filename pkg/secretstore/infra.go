package secretstore

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// SQLRepository implements Repository against the shared secrets table,
// driver-agnostic via sqlx.DB.Rebind.
type SQLRepository struct {
	db *sqlx.DB
}

func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

type secretRow struct {
	SecretType string `db:"secret_type"`
	Value      []byte `db:"value"`
	CreatedAt  string `db:"created_at"`
}

func (r *SQLRepository) Get(ctx context.Context, secretType string) (*Secret, error) {
	query := r.db.Rebind(`SELECT secret_type, value, created_at FROM secrets WHERE secret_type = ?`)

	var row secretRow
	if err := r.db.GetContext(ctx, &row, query, secretType); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}

	return &Secret{Type: row.SecretType, Value: row.Value}, nil
}

func (r *SQLRepository) Save(ctx context.Context, secret Secret) error {
	upsert := r.db.Rebind(`
		INSERT INTO secrets (secret_type, value)
		VALUES (?, ?)
		ON CONFLICT (secret_type) DO UPDATE SET value = EXCLUDED.value`)

	_, err := r.db.ExecContext(ctx, upsert, secret.Type, secret.Value)
	return err
}
