package mcp

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/trailforge/authcore/pkg/kernel"
)

// CatalogEntry tracks one tenant's enablement of one registered tool.
// Registry tools with no matching row are still visible to non-admin
// callers (feature-flag tools default to on); only an explicit
// AdminOnly() or a catalog row with Enabled=false hides a tool.
type CatalogEntry struct {
	TenantID  kernel.TenantID
	ToolName  string
	Enabled   bool
	AdminOnly bool
}

// CatalogRepository persists per-tenant tool enablement.
type CatalogRepository interface {
	FindByTenant(ctx context.Context, tenantID kernel.TenantID) ([]CatalogEntry, error)
	Upsert(ctx context.Context, entry CatalogEntry) error
}

// SQLCatalogRepository implements CatalogRepository against tool_catalog.
type SQLCatalogRepository struct {
	db *sqlx.DB
}

func NewSQLCatalogRepository(db *sqlx.DB) *SQLCatalogRepository {
	return &SQLCatalogRepository{db: db}
}

type catalogRow struct {
	TenantID  string `db:"tenant_id"`
	ToolName  string `db:"tool_name"`
	Enabled   bool   `db:"enabled"`
	AdminOnly bool   `db:"admin_only"`
}

func (r *SQLCatalogRepository) FindByTenant(ctx context.Context, tenantID kernel.TenantID) ([]CatalogEntry, error) {
	query := r.db.Rebind(`SELECT tenant_id, tool_name, enabled, admin_only FROM tool_catalog WHERE tenant_id = ?`)
	var rows []catalogRow
	if err := r.db.SelectContext(ctx, &rows, query, tenantID.String()); err != nil {
		return nil, err
	}
	out := make([]CatalogEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, CatalogEntry{
			TenantID:  kernel.NewTenantID(row.TenantID),
			ToolName:  row.ToolName,
			Enabled:   row.Enabled,
			AdminOnly: row.AdminOnly,
		})
	}
	return out, nil
}

func (r *SQLCatalogRepository) Upsert(ctx context.Context, entry CatalogEntry) error {
	query := r.db.Rebind(`
		INSERT INTO tool_catalog (tenant_id, tool_name, enabled, admin_only)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, tool_name) DO UPDATE SET enabled = EXCLUDED.enabled, admin_only = EXCLUDED.admin_only`)
	_, err := r.db.ExecContext(ctx, query, entry.TenantID.String(), entry.ToolName, entry.Enabled, entry.AdminOnly)
	return err
}
