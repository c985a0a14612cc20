// Package upstreamoauth is the client half of OAuth2: it connects a user's
// account to a third-party fitness provider (Strava, Fitbit, Garmin, ...),
// storing only encrypted tokens and refreshing them transparently. It is
// the opposite side of pkg/oauth2as, which issues tokens rather than
// consuming them.
package upstreamoauth

import (
	"context"
	"net/http"
	"time"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/kernel"
)

// ProviderConfig is one provider's OAuth client registration. It mirrors
// config.UpstreamProviderConfig field-for-field so Client can be built
// directly from config.UpstreamOAuthConfig.Providers() without an adapter.
type ProviderConfig struct {
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	UsePKCE      bool
}

// UserOAuthToken is the encrypted-at-rest record of one user's connection to
// one upstream provider. EncryptedAccessToken/EncryptedRefreshToken are
// cryptobox ciphertexts sealed under Nonce; RefreshToken is absent for
// providers (or grants) that never issue one.
type UserOAuthToken struct {
	ID                    string
	UserID                kernel.UserID
	TenantID              kernel.TenantID
	Provider              string
	EncryptedAccessToken  []byte
	EncryptedRefreshToken []byte
	Nonce                 []byte
	Scope                 string
	ExpiresAt             time.Time
	Stale                 bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// OAuthClientState is the CSRF-protection value minted by BuildAuthURL and
// consumed exactly once by HandleCallback. Distinct from oauth2as.OAuth2State,
// which protects the authorization-server side of the flow instead.
type OAuthClientState struct {
	StateValue   string
	Provider     string
	UserID       kernel.UserID
	CodeVerifier string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// TokenRepository persists UserOAuthToken rows, one per (user, tenant,
// provider). Upsert is a full logical replace: the previous row's
// ciphertext, nonce and expiry are discarded entirely rather than merged.
type TokenRepository interface {
	Upsert(ctx context.Context, token UserOAuthToken) error
	Find(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string) (*UserOAuthToken, error)
	MarkStale(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string) error
	Delete(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string) error
}

// StateRepository persists CSRF state for the client side of the flow.
type StateRepository interface {
	Save(ctx context.Context, state OAuthClientState) error
	ConsumeState(ctx context.Context, stateValue string, now time.Time) (*OAuthClientState, error)
}

// TenantResolver is the narrow slice of component J this package needs to
// learn which tenant a connecting user belongs to, without depending on
// all of pkg/iam/tenant.
type TenantResolver interface {
	Resolve(ctx context.Context, userID kernel.UserID, hint *kernel.TenantID) (*kernel.TenantContext, error)
}

var ErrRegistry = errx.NewRegistry("UPSTREAMOAUTH")

var (
	CodeInvalidState     = ErrRegistry.Register("INVALID_STATE", errx.TypeValidation, http.StatusBadRequest, "Invalid OAuth state parameter")
	CodeUnknownProvider  = ErrRegistry.Register("UNKNOWN_PROVIDER", errx.TypeValidation, http.StatusBadRequest, "unknown or disabled upstream provider")
	CodeExchangeFailed   = ErrRegistry.Register("EXCHANGE_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Failed to exchange OAuth code for token")
	CodeNotConnected     = ErrRegistry.Register("NOT_CONNECTED", errx.TypeNotFound, http.StatusNotFound, "no connection on record for this provider")
	CodeRefreshFailed    = ErrRegistry.Register("REFRESH_FAILED", errx.TypeExternal, http.StatusBadGateway, "failed to refresh upstream OAuth token")
)

func ErrInvalidState() *errx.Error { return ErrRegistry.New(CodeInvalidState) }

func ErrUnknownProvider(provider string) *errx.Error {
	return ErrRegistry.New(CodeUnknownProvider).WithDetail("provider", provider)
}

func ErrExchangeFailed(cause error) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeExchangeFailed, "Failed to exchange OAuth code for token: "+cause.Error())
}

func ErrNotConnected(provider string) *errx.Error {
	return ErrRegistry.New(CodeNotConnected).WithDetail("provider", provider)
}

func ErrRefreshFailed(cause error) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeRefreshFailed, "failed to refresh upstream OAuth token: "+cause.Error())
}
