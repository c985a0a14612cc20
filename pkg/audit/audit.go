// Package audit is the append-only compliance trail for security-relevant
// actions across the system: OAuth2 token issuance, API key lifecycle,
// upstream provider connections, and session login. It generalizes
// authinfra.LogxAuditService's structured-field logging into a persisted
// record a compliance reviewer can actually query later.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/trailforge/authcore/pkg/kernel"
)

// Event is one append-only audit record. There is deliberately no mutable
// state on it once recorded: Logger exposes Record and nothing else.
type Event struct {
	ID          string
	TenantID    *kernel.TenantID
	EventType   string
	ActorUserID *kernel.UserID
	Subject     *string
	OccurredAt  time.Time
	Details     json.RawMessage
}

// Event type constants, one per call site that emits an audit record.
const (
	EventLoginSucceeded     = "auth.login.succeeded"
	EventLoginFailed        = "auth.login.failed"
	EventAccountRegistered  = "auth.register"
	EventSessionRefreshed   = "auth.refresh"
	EventCodeIssued         = "oauth2as.code_issued"
	EventTokenIssued        = "oauth2as.token_issued"
	EventTokenReplayBlocked = "oauth2as.token_replay_blocked"
	EventAPIKeyCreated      = "apikey.created"
	EventAPIKeyRevoked      = "apikey.revoked"
	EventProviderConnected  = "upstreamoauth.connected"
	EventProviderDisconnect = "upstreamoauth.disconnected"
)

// Repository persists Event rows. Append-only by construction: no update or
// delete method exists on this interface at all.
type Repository interface {
	Insert(ctx context.Context, e Event) error
	ListByTenant(ctx context.Context, tenantID kernel.TenantID, opts kernel.PaginationOptions) ([]Event, error)
	CountByTenant(ctx context.Context, tenantID kernel.TenantID) (int, error)
}

// newID mints a fresh event ID, matching the uuid.NewString() convention
// used by every other entity in this codebase.
func newID() string {
	return uuid.NewString()
}
