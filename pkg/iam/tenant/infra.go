package tenant

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/trailforge/authcore/pkg/kernel"
)

// SQLRepository implements Repository against the tenants table.
type SQLRepository struct {
	db *sqlx.DB
}

func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

type tenantRow struct {
	ID   string `db:"id"`
	Plan string `db:"plan"`
}

func (r *SQLRepository) FindByID(ctx context.Context, id kernel.TenantID) (*Tenant, error) {
	query := r.db.Rebind(`SELECT id, plan FROM tenants WHERE id = ?`)
	var row tenantRow
	if err := r.db.GetContext(ctx, &row, query, id.String()); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	return &Tenant{ID: kernel.NewTenantID(row.ID), Plan: Plan(row.Plan)}, nil
}

func (r *SQLRepository) Save(ctx context.Context, t Tenant) error {
	query := r.db.Rebind(`
		INSERT INTO tenants (id, plan) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET plan = EXCLUDED.plan`)
	_, err := r.db.ExecContext(ctx, query, t.ID.String(), string(t.Plan))
	return err
}
