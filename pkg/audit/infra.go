package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trailforge/authcore/pkg/kernel"
)

// SQLRepository implements Repository against audit_events.
type SQLRepository struct {
	db *sqlx.DB
}

func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

type eventRow struct {
	ID          string         `db:"id"`
	TenantID    sql.NullString `db:"tenant_id"`
	EventType   string         `db:"event_type"`
	ActorUserID sql.NullString `db:"actor_user_id"`
	Subject     sql.NullString `db:"subject"`
	OccurredAt  time.Time      `db:"occurred_at"`
	Details     string         `db:"details"`
}

func (r eventRow) toDomain() Event {
	e := Event{
		ID:         r.ID,
		EventType:  r.EventType,
		OccurredAt: r.OccurredAt,
		Details:    []byte(r.Details),
	}
	if r.TenantID.Valid {
		tid := kernel.NewTenantID(r.TenantID.String)
		e.TenantID = &tid
	}
	if r.ActorUserID.Valid {
		uid := kernel.NewUserID(r.ActorUserID.String)
		e.ActorUserID = &uid
	}
	if r.Subject.Valid {
		subject := r.Subject.String
		e.Subject = &subject
	}
	return e
}

func (r *SQLRepository) Insert(ctx context.Context, e Event) error {
	var tenantID, actorUserID, subject interface{}
	if e.TenantID != nil {
		tenantID = e.TenantID.String()
	}
	if e.ActorUserID != nil {
		actorUserID = e.ActorUserID.String()
	}
	if e.Subject != nil {
		subject = *e.Subject
	}
	details := string(e.Details)
	if details == "" {
		details = "{}"
	}

	query := r.db.Rebind(`
		INSERT INTO audit_events (id, tenant_id, event_type, actor_user_id, subject, occurred_at, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, e.ID, tenantID, e.EventType, actorUserID, subject, e.OccurredAt, details)
	return err
}

func (r *SQLRepository) ListByTenant(ctx context.Context, tenantID kernel.TenantID, opts kernel.PaginationOptions) ([]Event, error) {
	offset := (opts.Page - 1) * opts.PageSize
	query := r.db.Rebind(`
		SELECT id, tenant_id, event_type, actor_user_id, subject, occurred_at, details
		FROM audit_events WHERE tenant_id = ? ORDER BY occurred_at DESC LIMIT ? OFFSET ?`)
	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, query, tenantID.String(), opts.PageSize, offset); err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *SQLRepository) CountByTenant(ctx context.Context, tenantID kernel.TenantID) (int, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM audit_events WHERE tenant_id = ?`)
	var count int
	if err := r.db.GetContext(ctx, &count, query, tenantID.String()); err != nil {
		return 0, err
	}
	return count, nil
}
