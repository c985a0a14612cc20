// Package auth is the HTTP session side of authentication: register, login
// and refresh for browser/interactive clients, backed by a JWT minted
// through pkg/iam/jwks rather than the OAuth2 authorization-code dance
// pkg/oauth2as implements for machine clients.
package auth

import (
	"net/http"
	"time"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/kernel"
)

// RefreshToken is an opaque, rotating credential that lets a session renew
// its access token without re-authenticating. Only TokenHash is ever
// persisted; the value handed back to the caller never is.
type RefreshToken struct {
	ID        string
	TokenHash string
	UserID    kernel.UserID
	TenantID  kernel.TenantID
	ExpiresAt time.Time
	IsRevoked bool
	CreatedAt time.Time
}

func (r *RefreshToken) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}

func (r *RefreshToken) IsValid() bool {
	return !r.IsRevoked && !r.IsExpired()
}

// SessionResult is what Login and Refresh return: a fresh access/refresh
// token pair.
type SessionResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
}

var ErrRegistry = errx.NewRegistry("AUTH")

var (
	CodeInvalidRefreshToken = ErrRegistry.Register("INVALID_REFRESH_TOKEN", errx.TypeAuthorization, http.StatusUnauthorized, "invalid refresh token")
	CodeExpiredRefreshToken = ErrRegistry.Register("EXPIRED_REFRESH_TOKEN", errx.TypeAuthorization, http.StatusUnauthorized, "expired or revoked refresh token")
	CodeInvalidAuthHeader   = ErrRegistry.Register("INVALID_AUTH_HEADER", errx.TypeAuthorization, http.StatusUnauthorized, "missing or malformed Authorization header")
	CodeAuthRequired        = ErrRegistry.Register("AUTH_REQUIRED", errx.TypeAuthorization, http.StatusUnauthorized, "authentication required")
)

func ErrInvalidRefreshToken() *errx.Error {
	return ErrRegistry.New(CodeInvalidRefreshToken)
}

func ErrExpiredRefreshToken() *errx.Error {
	return ErrRegistry.New(CodeExpiredRefreshToken)
}

func ErrInvalidAuthHeader() *errx.Error {
	return ErrRegistry.New(CodeInvalidAuthHeader)
}

func ErrAuthRequired() *errx.Error {
	return ErrRegistry.New(CodeAuthRequired)
}
