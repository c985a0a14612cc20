package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/kernel"
	"github.com/trailforge/authcore/pkg/logx"
)

// Logger dual-writes every event: a structured logx line for operational
// visibility right now, and a Repository row for compliance retrieval
// later. The log write never blocks the persisted write or vice versa;
// either one failing is reported independently.
type Logger struct {
	repo Repository
}

func NewLogger(repo Repository) *Logger {
	return &Logger{repo: repo}
}

// Record stamps ID/OccurredAt if absent, then logs and persists e. A
// persistence failure is returned to the caller; this package never drops
// an audit event silently.
func (l *Logger) Record(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if e.Details == nil {
		e.Details = json.RawMessage("{}")
	}

	fields := logx.Fields{
		"audit_event": e.EventType,
		"occurred_at": e.OccurredAt,
	}
	if e.TenantID != nil {
		fields["tenant_id"] = e.TenantID.String()
	}
	if e.ActorUserID != nil {
		fields["actor_user_id"] = e.ActorUserID.String()
	}
	if e.Subject != nil {
		fields["subject"] = *e.Subject
	}
	logx.WithFields(fields).Info("audit event recorded")

	if err := l.repo.Insert(ctx, e); err != nil {
		return errx.Wrap(err, "failed to persist audit event", errx.TypeInternal)
	}
	return nil
}

// record is a convenience wrapper the call sites in auth/oauth2as/apikey/
// upstreamoauth use: it builds Details from an arbitrary JSON-able value and
// swallows marshal errors into a best-effort empty body rather than failing
// the caller's primary operation over an audit side-effect.
func (l *Logger) record(ctx context.Context, eventType string, tenantID *kernel.TenantID, actorUserID *kernel.UserID, subject *string, detail interface{}) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		raw = json.RawMessage("{}")
	}
	return l.Record(ctx, Event{
		TenantID:    tenantID,
		EventType:   eventType,
		ActorUserID: actorUserID,
		Subject:     subject,
		Details:     raw,
	})
}

// RecordLogin logs a session-auth attempt, success or failure.
func (l *Logger) RecordLogin(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, success bool, ip string) error {
	eventType := EventLoginSucceeded
	if !success {
		eventType = EventLoginFailed
	}
	return l.record(ctx, eventType, &tenantID, &userID, nil, map[string]string{"ip": ip})
}

// RecordRegistration logs a new account's creation.
func (l *Logger) RecordRegistration(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, ip string) error {
	return l.record(ctx, EventAccountRegistered, &tenantID, &userID, nil, map[string]string{"ip": ip})
}

// RecordRefresh logs a session token renewal.
func (l *Logger) RecordRefresh(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, ip string) error {
	return l.record(ctx, EventSessionRefreshed, &tenantID, &userID, nil, map[string]string{"ip": ip})
}

// ListByTenant returns a tenant's audit trail newest-first, one page at a
// time, for a compliance reviewer paging through the full history.
func (l *Logger) ListByTenant(ctx context.Context, tenantID kernel.TenantID, opts kernel.PaginationOptions) (kernel.Paginated[Event], error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = 50
	}

	events, err := l.repo.ListByTenant(ctx, tenantID, opts)
	if err != nil {
		return kernel.Paginated[Event]{}, errx.Wrap(err, "failed to list audit events", errx.TypeInternal)
	}
	total, err := l.repo.CountByTenant(ctx, tenantID)
	if err != nil {
		return kernel.Paginated[Event]{}, errx.Wrap(err, "failed to count audit events", errx.TypeInternal)
	}
	return kernel.NewPaginated(events, opts.Page, opts.PageSize, total), nil
}
