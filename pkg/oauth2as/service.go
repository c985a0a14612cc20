package oauth2as

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/iam/jwks"
	"github.com/trailforge/authcore/pkg/iam/user"
	"github.com/trailforge/authcore/pkg/kernel"
)

const (
	accessTokenTTL = time.Hour
	stateTTL       = 10 * time.Minute
)

// AccessTokenClaims is what Service.Sign mints for every grant. ClientID is
// always set; UserID is empty for client_credentials grants.
type AccessTokenClaims struct {
	UserID     kernel.UserID   `json:"user_id,omitempty"`
	TenantID   kernel.TenantID `json:"tenant_id,omitempty"`
	ClientID   kernel.ClientID `json:"client_id"`
	Scopes     []string        `json:"scopes"`
	AuthMethod string          `json:"auth_method"`
	jwt.RegisteredClaims
}

// Service implements the authorization server's grant and registration
// logic over the Client/AuthCode/RefreshToken/State repositories and the
// shared signing key manager.
type Service struct {
	clients  ClientRepository
	codes    AuthCodeRepository
	refresh  RefreshTokenRepository
	states   StateRepository
	signer   *jwks.Manager
	users    *user.Service
	issuer   string
	authCodeTTL     time.Duration
	refreshTokenTTL time.Duration
}

func NewService(clients ClientRepository, codes AuthCodeRepository, refresh RefreshTokenRepository, states StateRepository, signer *jwks.Manager, users *user.Service, issuer string, authCodeTTL, refreshTokenTTL time.Duration) *Service {
	if authCodeTTL <= 0 {
		authCodeTTL = 10 * time.Minute
	}
	if refreshTokenTTL <= 0 {
		refreshTokenTTL = 30 * 24 * time.Hour
	}
	return &Service{
		clients:         clients,
		codes:           codes,
		refresh:         refresh,
		states:          states,
		signer:          signer,
		users:           users,
		issuer:          issuer,
		authCodeTTL:     authCodeTTL,
		refreshTokenTTL: refreshTokenTTL,
	}
}

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// AuthorizeRequest is the decoded /authorize query (or POST form).
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            kernel.ClientID
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	UserID              *kernel.UserID // nil means "not authenticated"
}

// Authorize validates an /authorize request per RFC 6749 §4.1.1 + RFC 7636
// and, on success, mints a one-shot authorization code.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (code string, state string, err error) {
	if req.ResponseType != "code" {
		return "", "", ErrUnsupportedResponseType(req.ResponseType)
	}

	client, err := s.clients.FindByID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", ErrInvalidClient()
		}
		return "", "", errx.Wrap(err, "failed to resolve client", errx.TypeInternal)
	}

	if !client.HasRedirectURI(req.RedirectURI) {
		return "", "", ErrInvalidRedirectURI()
	}

	if len(req.CodeChallenge) < 43 || len(req.CodeChallenge) > 128 {
		return "", "", ErrInvalidRequest("code_challenge is required and must be 43-128 characters")
	}
	if req.CodeChallengeMethod != "S256" {
		return "", "", ErrInvalidRequest("code_challenge_method must be S256")
	}

	if req.UserID == nil {
		return "", "", ErrAuthenticationRequired()
	}

	codeValue, err := randomURLSafe(32)
	if err != nil {
		return "", "", errx.Crypto("failed to generate authorization code")
	}

	now := time.Now().UTC()
	ac := OAuth2AuthCode{
		Code:                codeValue,
		ClientID:            req.ClientID,
		UserID:              *req.UserID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ExpiresAt:           now.Add(s.authCodeTTL),
		CreatedAt:           now,
	}
	if err := s.codes.Save(ctx, ac); err != nil {
		return "", "", errx.Wrap(err, "failed to persist authorization code", errx.TypeInternal)
	}

	return codeValue, req.State, nil
}

// TokenRequest is the decoded /token form body, covering all three
// supported grant types at once; unused fields for a given grant are left
// zero-valued.
type TokenRequest struct {
	GrantType    string
	ClientID     kernel.ClientID
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
}

// TokenResponse is the RFC 6749 §5.1 access token response.
type TokenResponse struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int
	Scope        string
	RefreshToken string
}

// Token handles all three grant types client authentication is required for
// every one of them (RFC 6749 §6): the supplied client_secret must match the
// stored hash before any grant-specific logic runs.
func (s *Service) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	switch req.GrantType {
	case "authorization_code":
		return s.tokenFromAuthCode(ctx, client, req)
	case "client_credentials":
		return s.tokenFromClientCredentials(ctx, client, req)
	case "refresh_token":
		return s.tokenFromRefreshToken(ctx, client, req)
	default:
		return nil, ErrUnsupportedGrantType(req.GrantType)
	}
}

func (s *Service) authenticateClient(ctx context.Context, clientID kernel.ClientID, clientSecret string) (*OAuth2Client, error) {
	client, err := s.clients.FindByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidClient()
		}
		return nil, errx.Wrap(err, "failed to resolve client", errx.TypeInternal)
	}
	if bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)) != nil {
		return nil, ErrInvalidClient()
	}
	return client, nil
}

func (s *Service) tokenFromAuthCode(ctx context.Context, client *OAuth2Client, req TokenRequest) (*TokenResponse, error) {
	now := time.Now().UTC()

	ac, err := s.codes.ConsumeAuthCode(ctx, req.Code, client.ClientID, req.RedirectURI, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidGrant("authorization code is unknown, expired, already used, or does not match this client/redirect_uri")
		}
		return nil, errx.Wrap(err, "failed to redeem authorization code", errx.TypeInternal)
	}

	if !VerifyPKCE(req.CodeVerifier, ac.CodeChallenge) {
		return nil, ErrPKCEInvalid()
	}

	accessToken, err := s.signAccessToken(client.ClientID, &ac.UserID, scopesOf(ac.Scope))
	if err != nil {
		return nil, err
	}

	refreshValue, err := s.mintRefreshToken(ctx, client.ClientID, ac.UserID, ac.Scope)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(accessTokenTTL.Seconds()),
		Scope:        ac.Scope,
		RefreshToken: refreshValue,
	}, nil
}

func (s *Service) tokenFromClientCredentials(ctx context.Context, client *OAuth2Client, req TokenRequest) (*TokenResponse, error) {
	if !client.SupportsGrant("client_credentials") {
		return nil, ErrUnsupportedGrantType("client_credentials")
	}

	accessToken, err := s.signClientAccessToken(client.ClientID, scopesOf(req.Scope))
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(accessTokenTTL.Seconds()),
		Scope:       req.Scope,
	}, nil
}

func (s *Service) tokenFromRefreshToken(ctx context.Context, client *OAuth2Client, req TokenRequest) (*TokenResponse, error) {
	now := time.Now().UTC()

	successorValue, err := randomURLSafe(32)
	if err != nil {
		return nil, errx.Crypto("failed to generate refresh token")
	}

	pre, err := s.refresh.ConsumeRefreshToken(ctx, req.RefreshToken, client.ClientID, OAuth2RefreshToken{
		Token:     successorValue,
		ClientID:  client.ClientID,
		CreatedAt: now,
	}, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Replay of an already-revoked or unknown token: fail closed, per
			// RFC 6749 §10.4, without revealing which case applied.
			return nil, ErrInvalidGrant("refresh token is unknown, expired, or already revoked")
		}
		return nil, errx.Wrap(err, "failed to rotate refresh token", errx.TypeInternal)
	}

	accessToken, err := s.signAccessToken(client.ClientID, &pre.UserID, scopesOf(pre.Scope))
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(accessTokenTTL.Seconds()),
		Scope:        pre.Scope,
		RefreshToken: successorValue,
	}, nil
}

func (s *Service) mintRefreshToken(ctx context.Context, clientID kernel.ClientID, userID kernel.UserID, scope string) (string, error) {
	value, err := randomURLSafe(32)
	if err != nil {
		return "", errx.Crypto("failed to generate refresh token")
	}
	now := time.Now().UTC()
	rt := OAuth2RefreshToken{
		Token:     value,
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		ExpiresAt: now.Add(s.refreshTokenTTL),
		CreatedAt: now,
	}
	if err := s.refresh.Save(ctx, rt); err != nil {
		return "", errx.Wrap(err, "failed to persist refresh token", errx.TypeInternal)
	}
	return value, nil
}

func (s *Service) signAccessToken(clientID kernel.ClientID, userID *kernel.UserID, scopes []string) (string, error) {
	now := time.Now().UTC()
	claims := AccessTokenClaims{
		ClientID:   clientID,
		Scopes:     scopes,
		AuthMethod: "oauth2",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
		},
	}
	if userID != nil {
		claims.UserID = *userID
		claims.Subject = userID.String()
	}
	token, err := s.signer.Sign(claims)
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *Service) signClientAccessToken(clientID kernel.ClientID, scopes []string) (string, error) {
	now := time.Now().UTC()
	claims := AccessTokenClaims{
		ClientID:   clientID,
		Scopes:     scopes,
		AuthMethod: "oauth2_client_credentials",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   clientID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
		},
	}
	return s.signer.Sign(claims)
}

func scopesOf(scope string) []string {
	if scope == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(scope); i++ {
		if i == len(scope) || scope[i] == ' ' {
			if i > start {
				out = append(out, scope[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// ValidateRefreshStatus is the outcome reported by /validate_refresh.
type ValidateRefreshStatus string

const (
	ValidateRefreshValid   ValidateRefreshStatus = "Valid"
	ValidateRefreshInvalid ValidateRefreshStatus = "Invalid"
)

// ValidateRefreshResult is /validate_refresh's response body.
type ValidateRefreshResult struct {
	Status             ValidateRefreshStatus
	ExpiresIn          int
	Reason             string
	RequiresFullReauth bool
}

// ValidateRefresh reports whether accessToken still verifies and whether
// its subject resolves to an active user, without actually refreshing
// anything — it's a read-only convenience check for callers deciding
// whether to start a silent refresh or force a full re-login.
func (s *Service) ValidateRefresh(ctx context.Context, accessToken string) *ValidateRefreshResult {
	var claims AccessTokenClaims
	_, err := s.signer.Verify(accessToken, &claims)
	if err != nil {
		reason := "invalid_signature: " + err.Error()
		if jwksErr, ok := err.(*errx.Error); ok {
			switch jwksErr.Code {
			case jwks.CodeTokenExpired.Code:
				reason = "token_expired"
			case jwks.CodeTokenMalformed.Code:
				reason = "malformed_token: " + err.Error()
			}
		}
		return &ValidateRefreshResult{Status: ValidateRefreshInvalid, Reason: reason, RequiresFullReauth: true}
	}

	if claims.UserID.IsEmpty() {
		return &ValidateRefreshResult{Status: ValidateRefreshInvalid, Reason: "invalid_user_id", RequiresFullReauth: true}
	}

	if s.users != nil {
		if _, err := s.users.Get(ctx, claims.UserID); err != nil {
			if uerr, ok := err.(*errx.Error); ok && uerr.Type == errx.TypeNotFound {
				return &ValidateRefreshResult{Status: ValidateRefreshInvalid, Reason: "user_not_found", RequiresFullReauth: true}
			}
			return &ValidateRefreshResult{Status: ValidateRefreshInvalid, Reason: "database_error", RequiresFullReauth: true}
		}
	}

	expiresIn := int(time.Until(claims.ExpiresAt.Time).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return &ValidateRefreshResult{Status: ValidateRefreshValid, ExpiresIn: expiresIn}
}

// ClientRegistrationRequest is the RFC 7591 POST /register body, trimmed to
// the fields this authorization server actually honors.
type ClientRegistrationRequest struct {
	RedirectURIs            []string
	GrantTypes              []string
	Scopes                  []string
	TokenEndpointAuthMethod string
}

// ClientRegistrationResponse returns the freshly minted client_secret; it is
// never retrievable again after this response.
type ClientRegistrationResponse struct {
	ClientID     string
	ClientSecret string
}

// Register implements RFC 7591 dynamic client registration.
func (s *Service) Register(ctx context.Context, req ClientRegistrationRequest) (*ClientRegistrationResponse, error) {
	if len(req.RedirectURIs) == 0 {
		return nil, ErrInvalidRequest("redirect_uris is required")
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token"}
	}
	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "client_secret_basic"
	}

	clientID := uuid.NewString()
	secretValue, err := randomURLSafe(32)
	if err != nil {
		return nil, errx.Crypto("failed to generate client secret")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secretValue), bcrypt.DefaultCost)
	if err != nil {
		return nil, errx.Wrap(err, "failed to hash client secret", errx.TypeCrypto)
	}

	client := OAuth2Client{
		ClientID:                kernel.NewClientID(clientID),
		ClientSecretHash:        string(hash),
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              grantTypes,
		TokenEndpointAuthMethod: authMethod,
		Scopes:                  req.Scopes,
		CreatedAt:               time.Now().UTC(),
	}
	if err := s.clients.Save(ctx, client); err != nil {
		return nil, errx.Wrap(err, "failed to persist registered client", errx.TypeInternal)
	}

	return &ClientRegistrationResponse{ClientID: clientID, ClientSecret: secretValue}, nil
}

// IssueState mints and persists a CSRF state value for a client-initiated
// flow (used by the browser-facing endpoints that front /authorize).
func (s *Service) IssueState(ctx context.Context, clientID kernel.ClientID, userID *kernel.UserID) (string, error) {
	value, err := randomURLSafe(16)
	if err != nil {
		return "", errx.Crypto("failed to generate state")
	}
	now := time.Now().UTC()
	st := OAuth2State{
		StateValue: value,
		ClientID:   clientID,
		UserID:     userID,
		ExpiresAt:  now.Add(stateTTL),
		CreatedAt:  now,
	}
	if err := s.states.Save(ctx, st); err != nil {
		return "", errx.Wrap(err, "failed to persist state", errx.TypeInternal)
	}
	return value, nil
}

// ConsumeState atomically redeems a previously issued state value.
func (s *Service) ConsumeState(ctx context.Context, stateValue string) (*OAuth2State, error) {
	st, err := s.states.ConsumeState(ctx, stateValue, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound()
		}
		return nil, errx.Wrap(err, "failed to consume state", errx.TypeInternal)
	}
	return st, nil
}
