package auth

import (
	"context"

	"github.com/trailforge/authcore/pkg/kernel"
)

// TokenRepository persists session refresh tokens, one active row per
// issued session (rotated on every refresh).
type TokenRepository interface {
	SaveRefreshToken(ctx context.Context, token RefreshToken) error
	FindRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RevokeAllUserTokens(ctx context.Context, userID kernel.UserID) error
}

// Auditor is the narrow slice of pkg/audit this package writes to.
type Auditor interface {
	RecordLogin(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, success bool, ip string) error
	RecordRegistration(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, ip string) error
	RecordRefresh(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, ip string) error
}
