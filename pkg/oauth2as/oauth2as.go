// Package oauth2as implements the authorization server half of the OAuth2
// flow (RFC 6749 authorization code + client credentials + refresh grants,
// RFC 7636 PKCE, RFC 7591 dynamic client registration). It issues access
// tokens through pkg/iam/jwks and never stores client secrets or refresh
// tokens in the clear.
package oauth2as

import (
	"context"
	"net/http"
	"time"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/kernel"
)

// OAuth2Client is a registered consumer of the authorization server, either
// pre-provisioned by an operator or self-registered via RFC 7591.
type OAuth2Client struct {
	ClientID              kernel.ClientID
	ClientSecretHash      string
	RedirectURIs          []string
	GrantTypes            []string
	TokenEndpointAuthMethod string
	Scopes                []string
	CreatedAt             time.Time
}

// HasRedirectURI reports whether uri is one of c's registered redirect URIs.
func (c *OAuth2Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// SupportsGrant reports whether grant is listed in c's grant_types.
func (c *OAuth2Client) SupportsGrant(grant string) bool {
	for _, g := range c.GrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}

// OAuth2AuthCode is a one-shot authorization code minted by /authorize and
// redeemed by /token. The code value itself is 32 bytes of URL-safe random
// data; it expires 10 minutes after issuance and is marked used on redeem,
// never deleted, so replay attempts are detectable rather than silently
// "not found."
type OAuth2AuthCode struct {
	Code                string
	ClientID            kernel.ClientID
	UserID              kernel.UserID
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
	Used                bool
	CreatedAt           time.Time
}

// OAuth2RefreshToken is rotated on every redemption: the predecessor is
// marked revoked in the same transaction that inserts the successor, so a
// replayed (already-revoked) token fails closed rather than silently
// re-issuing.
type OAuth2RefreshToken struct {
	Token     string
	ClientID  kernel.ClientID
	UserID    kernel.UserID
	Scope     string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// OAuth2State is the CSRF-protection value minted when a client-side flow
// needs to round-trip through a redirect. Atomically consumed on callback.
type OAuth2State struct {
	StateValue string
	ClientID   kernel.ClientID
	UserID     *kernel.UserID
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// ClientRepository persists registered OAuth2 clients.
type ClientRepository interface {
	FindByID(ctx context.Context, clientID kernel.ClientID) (*OAuth2Client, error)
	Save(ctx context.Context, client OAuth2Client) error
}

// AuthCodeRepository persists authorization codes. ConsumeAuthCode is the
// atomic compare-and-set redemption: it must only succeed once per code,
// and only when client_id and redirect_uri match the values the code was
// minted with.
type AuthCodeRepository interface {
	Save(ctx context.Context, code OAuth2AuthCode) error
	ConsumeAuthCode(ctx context.Context, code string, clientID kernel.ClientID, redirectURI string, now time.Time) (*OAuth2AuthCode, error)
}

// RefreshTokenRepository persists refresh tokens. ConsumeRefreshToken
// atomically revokes the presented token and inserts its rotated successor,
// returning the pre-image (the token as it was before this call) so the
// caller can read its scope/user/client before minting the new pair.
type RefreshTokenRepository interface {
	Save(ctx context.Context, token OAuth2RefreshToken) error
	ConsumeRefreshToken(ctx context.Context, token string, clientID kernel.ClientID, successor OAuth2RefreshToken, now time.Time) (*OAuth2RefreshToken, error)
}

// StateRepository persists CSRF state for the authorization-server side of
// the flow (distinct from pkg/upstreamoauth's client-side state store).
type StateRepository interface {
	Save(ctx context.Context, state OAuth2State) error
	ConsumeState(ctx context.Context, stateValue string, now time.Time) (*OAuth2State, error)
}

var ErrRegistry = errx.NewRegistry("OAUTH2AS")

var (
	CodeInvalidClient     = ErrRegistry.Register("INVALID_CLIENT", errx.TypeAuthorization, http.StatusUnauthorized, "invalid client")
	CodeInvalidRedirect   = ErrRegistry.Register("INVALID_REDIRECT_URI", errx.TypeValidation, http.StatusBadRequest, "redirect_uri does not match a registered URI")
	CodeInvalidRequest    = ErrRegistry.Register("INVALID_REQUEST", errx.TypeValidation, http.StatusBadRequest, "invalid_request")
	CodeInvalidGrant      = ErrRegistry.Register("INVALID_GRANT", errx.TypeAuthorization, http.StatusBadRequest, "invalid_grant")
	CodeUnsupportedGrant  = ErrRegistry.Register("UNSUPPORTED_GRANT_TYPE", errx.TypeValidation, http.StatusBadRequest, "unsupported_grant_type")
	CodeUnsupportedRespType = ErrRegistry.Register("UNSUPPORTED_RESPONSE_TYPE", errx.TypeValidation, http.StatusBadRequest, "unsupported_response_type")
	CodeUnauthenticated   = ErrRegistry.Register("AUTHENTICATION_REQUIRED", errx.TypeAuthorization, http.StatusUnauthorized, "user authentication required")
	CodePKCEInvalid       = ErrRegistry.Register("INVALID_PKCE", errx.TypeValidation, http.StatusBadRequest, "PKCE verification failed")
	CodeCodeNotFound      = ErrRegistry.Register("CODE_NOT_FOUND", errx.TypeNotFound, http.StatusBadRequest, "authorization code not found, expired, or already used")
	CodeRefreshNotFound   = ErrRegistry.Register("REFRESH_NOT_FOUND", errx.TypeNotFound, http.StatusBadRequest, "refresh token not found, expired, or already revoked")
	CodeStateNotFound     = ErrRegistry.Register("STATE_NOT_FOUND", errx.TypeNotFound, http.StatusBadRequest, "state not found, expired, or already consumed")
	CodeClientNotFound    = ErrRegistry.Register("CLIENT_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "client not found")
)

func ErrInvalidClient() *errx.Error { return ErrRegistry.New(CodeInvalidClient) }

func ErrInvalidRedirectURI() *errx.Error { return ErrRegistry.New(CodeInvalidRedirect) }

func ErrInvalidRequest(reason string) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeInvalidRequest, "invalid_request").WithDetail("reason", reason)
}

func ErrInvalidGrant(reason string) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeInvalidGrant, "invalid_grant").WithDetail("reason", reason)
}

func ErrUnsupportedGrantType(grant string) *errx.Error {
	return ErrRegistry.New(CodeUnsupportedGrant).WithDetail("grant_type", grant)
}

func ErrUnsupportedResponseType(responseType string) *errx.Error {
	return ErrRegistry.New(CodeUnsupportedRespType).WithDetail("response_type", responseType)
}

func ErrAuthenticationRequired() *errx.Error { return ErrRegistry.New(CodeUnauthenticated) }

func ErrPKCEInvalid() *errx.Error { return ErrRegistry.New(CodePKCEInvalid) }

func ErrCodeNotFound() *errx.Error { return ErrRegistry.New(CodeCodeNotFound) }

func ErrRefreshNotFound() *errx.Error { return ErrRegistry.New(CodeRefreshNotFound) }

func ErrStateNotFound() *errx.Error { return ErrRegistry.New(CodeStateNotFound) }

func ErrClientNotFound(clientID kernel.ClientID) *errx.Error {
	return ErrRegistry.New(CodeClientNotFound).WithDetail("client_id", clientID.String())
}
