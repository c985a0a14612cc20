package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/iam/jwks"
	"github.com/trailforge/authcore/pkg/iam/tenant"
	"github.com/trailforge/authcore/pkg/iam/user"
	"github.com/trailforge/authcore/pkg/kernel"
)

// SessionClaims is the JWT payload minted for browser/interactive sessions.
// AuthMethod is always "session", distinguishing these tokens from anything
// signed elsewhere under the same key set.
type SessionClaims struct {
	TenantID   kernel.TenantID `json:"tenant_id"`
	Scopes     []string        `json:"scopes"`
	AuthMethod string          `json:"auth_method"`
	jwt.RegisteredClaims
}

const (
	defaultAccessTokenTTL  = time.Hour
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
	refreshTokenBytes      = 32
)

// Service wraps pkg/iam/user, pkg/iam/tenant and pkg/iam/jwks to implement
// register/login/refresh for session clients.
type Service struct {
	users           *user.Service
	tenants         *tenant.Resolver
	signer          *jwks.Manager
	tokens          TokenRepository
	auditor         Auditor
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

func NewService(users *user.Service, tenants *tenant.Resolver, signer *jwks.Manager, tokens TokenRepository, auditor Auditor, accessTokenTTL, refreshTokenTTL time.Duration) *Service {
	if accessTokenTTL <= 0 {
		accessTokenTTL = defaultAccessTokenTTL
	}
	if refreshTokenTTL <= 0 {
		refreshTokenTTL = defaultRefreshTokenTTL
	}
	return &Service{
		users:           users,
		tenants:         tenants,
		signer:          signer,
		tokens:          tokens,
		auditor:         auditor,
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
	}
}

// Register creates a new account. It does not itself issue a session: a
// freshly registered account may still be Pending approval, so the caller
// must Login separately once the account is Active.
func (s *Service) Register(ctx context.Context, email, password string, displayName *string, ip string) (*user.User, error) {
	u, err := s.users.Register(ctx, email, password, displayName)
	if err != nil {
		return nil, err
	}

	tenantID := kernel.NewTenantID(u.ID.String())
	if u.TenantID != nil {
		tenantID = *u.TenantID
	}
	if err := s.auditor.RecordRegistration(ctx, u.ID, tenantID, ip); err != nil {
		return nil, err
	}
	return u, nil
}

// Login authenticates by email/password and, on success, issues a session.
func (s *Service) Login(ctx context.Context, email, password, ip string) (*SessionResult, error) {
	u, err := s.users.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	result, tenantID, err := s.issueSession(ctx, u)
	if err != nil {
		return nil, err
	}
	if err := s.auditor.RecordLogin(ctx, u.ID, tenantID, true, ip); err != nil {
		return nil, err
	}
	return result, nil
}

// Refresh validates an opaque refresh token, rotates it, and mints a fresh
// access token.
func (s *Service) Refresh(ctx context.Context, refreshTokenValue, ip string) (*SessionResult, error) {
	hash := hashRefreshToken(refreshTokenValue)

	rt, err := s.tokens.FindRefreshToken(ctx, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidRefreshToken()
		}
		return nil, errx.Wrap(err, "failed to load refresh token", errx.TypeInternal)
	}
	if !rt.IsValid() {
		return nil, ErrExpiredRefreshToken()
	}

	u, err := s.users.Get(ctx, rt.UserID)
	if err != nil {
		return nil, err
	}
	if u.Status != user.StatusActive {
		return nil, user.ErrUserSuspended()
	}

	if err := s.tokens.RevokeRefreshToken(ctx, hash); err != nil {
		return nil, errx.Wrap(err, "failed to revoke used refresh token", errx.TypeInternal)
	}

	result, tenantID, err := s.issueSession(ctx, u)
	if err != nil {
		return nil, err
	}
	if err := s.auditor.RecordRefresh(ctx, u.ID, tenantID, ip); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) issueSession(ctx context.Context, u *user.User) (*SessionResult, kernel.TenantID, error) {
	tc, err := s.tenants.Resolve(ctx, u.ID, nil)
	if err != nil {
		return nil, "", err
	}

	scopes := []string{}
	if tc.Role.IsAdmin {
		scopes = append(scopes, "admin:*")
	}

	now := time.Now().UTC()
	claims := SessionClaims{
		TenantID:   tc.TenantID,
		Scopes:     scopes,
		AuthMethod: "session",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
		},
	}

	accessToken, err := s.signer.Sign(claims)
	if err != nil {
		return nil, "", err
	}

	refreshValue, err := randomOpaqueToken()
	if err != nil {
		return nil, "", errx.Wrap(err, "failed to generate refresh token", errx.TypeCrypto)
	}

	rt := RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: hashRefreshToken(refreshValue),
		UserID:    u.ID,
		TenantID:  tc.TenantID,
		ExpiresAt: now.Add(s.refreshTokenTTL),
		CreatedAt: now,
	}
	if err := s.tokens.SaveRefreshToken(ctx, rt); err != nil {
		return nil, "", errx.Wrap(err, "failed to persist refresh token", errx.TypeInternal)
	}

	return &SessionResult{
		AccessToken:  accessToken,
		RefreshToken: refreshValue,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTokenTTL.Seconds()),
	}, tc.TenantID, nil
}

func randomOpaqueToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashRefreshToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
