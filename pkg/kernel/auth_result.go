package kernel

import "time"

// AuthMethod identifies which credential scheme authenticated a request.
type AuthMethod string

const (
	AuthMethodJWT    AuthMethod = "jwt"
	AuthMethodAPIKey AuthMethod = "api_key"
)

// RateLimitStatus is the outcome of a rate-limit check on a credential.
type RateLimitStatus struct {
	IsRateLimited bool      `json:"is_rate_limited"`
	Limit         int       `json:"limit"`
	Remaining     int       `json:"remaining"`
	ResetAt       time.Time `json:"reset_at"`
}

// AuthResult is what the auth middleware (component I) produces for every
// successfully authenticated request, regardless of credential scheme.
type AuthResult struct {
	UserID        UserID
	Method        AuthMethod
	APIKeyID      APIKeyID // set only when Method == AuthMethodAPIKey
	Tier          string   // set only when Method == AuthMethodAPIKey
	RateLimit     *RateLimitStatus
	Scopes        []string
}

// TenantContext is the ephemeral per-request tenant resolution (component J).
type TenantContext struct {
	TenantID TenantID
	UserID   UserID
	Role     Role
}

// Role encodes admin-ness within a TenantContext.
type Role struct {
	IsAdmin bool
}
