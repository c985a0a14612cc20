package auth

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/trailforge/authcore/pkg/iam"
	"github.com/trailforge/authcore/pkg/iam/apikey/apikeysrv"
	"github.com/trailforge/authcore/pkg/iam/jwks"
	"github.com/trailforge/authcore/pkg/iam/ratelimit"
	"github.com/trailforge/authcore/pkg/iam/tenant"
	"github.com/trailforge/authcore/pkg/iam/user"
	"github.com/trailforge/authcore/pkg/kernel"
)

const (
	apiKeyPrefixLive = "pk_live_"
	apiKeyPrefixTest = "pk_test_"
	bearerPrefix     = "Bearer "
)

// UnifiedAuthMiddleware is the single entry point for every inbound
// request, classifying the credential (API key vs. session JWT) and
// producing a kernel.AuthResult the MCP layer consumes downstream, per
// spec.md §4.I's authenticate_request. Naming mirrors the field the rest of
// this codebase's container wires it under. Resolve is exported so the MCP
// router can authenticate a JSON-RPC caller without going through Fiber.
type UnifiedAuthMiddleware struct {
	apiKeys        *apikeysrv.Service
	monthlyLimiter *ratelimit.MonthlyLimiter
	signer         *jwks.Manager
	users          *user.Service
	tenants        *tenant.Resolver
}

func NewUnifiedAuthMiddleware(apiKeys *apikeysrv.Service, monthlyLimiter *ratelimit.MonthlyLimiter, signer *jwks.Manager, users *user.Service, tenants *tenant.Resolver) *UnifiedAuthMiddleware {
	return &UnifiedAuthMiddleware{
		apiKeys:        apiKeys,
		monthlyLimiter: monthlyLimiter,
		signer:         signer,
		users:          users,
		tenants:        tenants,
	}
}

// Authenticate implements the branch-by-credential-shape logic of
// authenticate_request: API-key prefix, Bearer JWT, or rejection.
func (m *UnifiedAuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return ErrAuthRequired()
		}

		result, authCtx, err := m.Resolve(c.Context(), authHeader)
		if err != nil {
			return err
		}
		c.Locals("auth_result", result)
		c.Locals("auth", authCtx)
		return c.Next()
	}
}

// Resolve classifies raw (an "Authorization" header value, or the bare
// credential itself) and authenticates it, returning both the MCP-facing
// AuthResult and the legacy AuthContext in one pass. Used directly by
// pkg/mcp's router, which needs the same branch logic outside of Fiber.
func (m *UnifiedAuthMiddleware) Resolve(ctx context.Context, raw string) (*kernel.AuthResult, *kernel.AuthContext, error) {
	switch {
	case strings.HasPrefix(raw, apiKeyPrefixLive), strings.HasPrefix(raw, apiKeyPrefixTest):
		return m.resolveAPIKey(ctx, raw)
	case strings.HasPrefix(raw, bearerPrefix):
		return m.resolveJWT(ctx, strings.TrimPrefix(raw, bearerPrefix))
	case raw == "":
		return nil, nil, ErrAuthRequired()
	default:
		return nil, nil, ErrInvalidAuthHeader()
	}
}

func (m *UnifiedAuthMiddleware) resolveAPIKey(ctx context.Context, keyString string) (*kernel.AuthResult, *kernel.AuthContext, error) {
	key, err := m.apiKeys.ValidateAPIKey(ctx, keyString)
	if err != nil {
		return nil, nil, err
	}

	status, err := m.monthlyLimiter.Check(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if status.IsRateLimited {
		return nil, nil, ratelimit.ErrExceeded(status.ResetAt)
	}

	tc, err := m.tenants.Resolve(ctx, key.UserID, nil)
	if err != nil {
		return nil, nil, err
	}

	scopes := scopesFor(tc.Role.IsAdmin)
	userID := key.UserID
	result := &kernel.AuthResult{
		UserID:    key.UserID,
		Method:    kernel.AuthMethodAPIKey,
		APIKeyID:  key.ID,
		Tier:      string(key.Tier),
		RateLimit: status,
		Scopes:    scopes,
	}
	authCtx := &kernel.AuthContext{
		UserID:   &userID,
		TenantID: tc.TenantID,
		Scopes:   scopes,
		IsAPIKey: true,
	}
	return result, authCtx, nil
}

func (m *UnifiedAuthMiddleware) resolveJWT(ctx context.Context, tokenString string) (*kernel.AuthResult, *kernel.AuthContext, error) {
	var claims SessionClaims
	if _, err := m.signer.Verify(tokenString, &claims); err != nil {
		return nil, nil, err
	}

	userID := kernel.NewUserID(claims.Subject)
	u, err := m.users.Get(ctx, userID)
	if err != nil {
		return nil, nil, jwks.ErrTokenInvalid("subject does not resolve to a known account")
	}
	if u.Status != user.StatusActive {
		return nil, nil, user.ErrUserSuspended()
	}

	result := &kernel.AuthResult{
		UserID: userID,
		Method: kernel.AuthMethodJWT,
		Scopes: claims.Scopes,
	}
	authCtx := &kernel.AuthContext{
		UserID:   &userID,
		TenantID: claims.TenantID,
		Email:    u.Email,
		Scopes:   claims.Scopes,
		IsAPIKey: false,
	}
	return result, authCtx, nil
}

func scopesFor(isAdmin bool) []string {
	if isAdmin {
		return []string{"admin:*"}
	}
	return []string{}
}

// RequireAdmin rejects any request whose resolved auth context isn't an
// admin, regardless of credential scheme.
func (m *UnifiedAuthMiddleware) RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authContext, ok := c.Locals("auth").(*kernel.AuthContext)
		if !ok || authContext == nil {
			return iam.ErrUnauthorized()
		}
		if !authContext.IsAdmin() {
			return iam.ErrAccessDenied()
		}
		return c.Next()
	}
}

// RequireTenant rejects any request whose resolved tenant doesn't match
// tenantID.
func (m *UnifiedAuthMiddleware) RequireTenant(tenantID kernel.TenantID) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authContext, ok := c.Locals("auth").(*kernel.AuthContext)
		if !ok || authContext == nil {
			return iam.ErrUnauthorized()
		}
		if authContext.TenantID != tenantID {
			return iam.ErrAccessDenied()
		}
		return c.Next()
	}
}
