// Package apikey manages long-lived credentials that authenticate
// programmatic (non-browser) callers, independent of the OAuth2/JWT session
// flow used by interactive clients.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/kernel"
)

// Tier gates an API key's default monthly rate limit.
type Tier string

const (
	TierTrial        Tier = "trial"
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"

	// secondsInMonth approximates a 30-day billing month, as used for every
	// non-enterprise tier's rate-limit window.
	secondsInMonth = 30 * 24 * 60 * 60

	trialExpiryDays = 14
)

// TierLimits returns the default (requests, window-in-seconds) pair for a
// tier. Enterprise returns (0, secondsInMonth): a limit of 0 is the bypass
// sentinel the rate limiter checks for.
func TierLimits(t Tier) (requests int, windowSeconds int) {
	switch t {
	case TierTrial:
		return 1_000, secondsInMonth
	case TierStarter:
		return 10_000, secondsInMonth
	case TierProfessional:
		return 100_000, secondsInMonth
	case TierEnterprise:
		return 0, secondsInMonth
	default:
		return 1_000, secondsInMonth
	}
}

// APIKey is a long-lived bearer credential scoped to a single user.
type APIKey struct {
	ID                     kernel.APIKeyID
	UserID                 kernel.UserID
	Name                   string
	KeyPrefix              string
	KeyHash                string
	Description            *string
	Tier                   Tier
	RateLimitRequests      int
	RateLimitWindowSeconds int
	IsActive               bool
	LastUsedAt             *time.Time
	ExpiresAt              *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

const (
	keyPrefixLive   = "pk_live_"
	keyPrefixTest   = "pk_test_"
	keyBodyLength   = 32
	keyBodyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
)

// GenerateAPIKey mints fresh key material: full = "pk_live_"|"pk_test_" +
// 32 URL-safe random characters. prefix is the first 12 characters of full
// (used for O(1) index lookups); hash is the hex-encoded SHA-256 digest of
// full (what's actually stored — full is shown to the caller exactly once).
func GenerateAPIKey(env string) (full, prefix, hash string, err error) {
	prefixTag := keyPrefixTest
	if env == "live" {
		prefixTag = keyPrefixLive
	}

	raw := make([]byte, keyBodyLength)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", errx.Crypto("failed to generate API key material")
	}
	body := make([]byte, keyBodyLength)
	for i, b := range raw {
		body[i] = keyBodyAlphabet[int(b)%len(keyBodyAlphabet)]
	}

	full = prefixTag + string(body)
	prefix = full[:12]
	hash = HashAPIKey(full)
	return full, prefix, hash, nil
}

// HashAPIKey returns the hex-encoded SHA-256 digest of a full key, the form
// persisted and compared against on validation.
func HashAPIKey(full string) string {
	sum := sha256.Sum256([]byte(full))
	return hex.EncodeToString(sum[:])
}

// ValidateFormat performs cheap shape validation before any DB lookup.
func ValidateFormat(key string) bool {
	if !strings.HasPrefix(key, keyPrefixLive) && !strings.HasPrefix(key, keyPrefixTest) {
		return false
	}
	body := key[len(keyPrefixLive):] // both prefixes share the same length
	if len(body) != keyBodyLength {
		return false
	}
	for _, r := range body {
		if !strings.ContainsRune(keyBodyAlphabet, r) {
			return false
		}
	}
	return true
}

// TrialExpiry returns the default expiry for a trial-tier key minted at now.
func TrialExpiry(now time.Time) time.Time {
	return now.AddDate(0, 0, trialExpiryDays)
}

// Repository persists API keys.
type Repository interface {
	Save(ctx context.Context, key APIKey) error
	FindByID(ctx context.Context, id kernel.APIKeyID) (*APIKey, error)
	FindByPrefixAndHash(ctx context.Context, prefix, hash string) (*APIKey, error)
	FindByUser(ctx context.Context, userID kernel.UserID) ([]APIKey, error)
	Deactivate(ctx context.Context, id kernel.APIKeyID) error
	UpdateLastUsed(ctx context.Context, id kernel.APIKeyID, when time.Time) error
}

// Usage is one recorded call against an API key, consumed by the monthly
// rate limiter's CountSince.
type Usage struct {
	ID             string
	APIKeyID       kernel.APIKeyID
	OccurredAt     time.Time
	ToolName       string
	StatusCode     int
	ResponseTimeMS int
	IP             string
	UserAgent      string
}

// UsageRepository appends usage records and answers the rolling-window count
// the rate limiter needs.
type UsageRepository interface {
	Record(ctx context.Context, usage Usage) error
	CountSince(ctx context.Context, apiKeyID kernel.APIKeyID, windowStart time.Time) (int, error)
}

var ErrRegistry = errx.NewRegistry("APIKEY")

var (
	CodeNotFound     = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "API key not found")
	CodeInvalid      = ErrRegistry.Register("INVALID", errx.TypeAuthorization, http.StatusUnauthorized, "API key is invalid or revoked")
	CodeExpired      = ErrRegistry.Register("EXPIRED", errx.TypeAuthorization, http.StatusUnauthorized, "API key has expired")
	CodeNameConflict = ErrRegistry.Register("NAME_CONFLICT", errx.TypeConflict, http.StatusConflict, "an API key with this name already exists for this user")
)

func ErrNotFound() *errx.Error     { return ErrRegistry.New(CodeNotFound) }
func ErrInvalid() *errx.Error      { return ErrRegistry.New(CodeInvalid) }
func ErrExpired() *errx.Error      { return ErrRegistry.New(CodeExpired) }
func ErrNameConflict() *errx.Error { return ErrRegistry.New(CodeNameConflict) }
