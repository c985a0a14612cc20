// Package jwks manages the RSA keypair(s) used to sign and verify access
// tokens, publishing the public half as a standard JWKS document (RFC 7517)
// and rotating the active key on demand.
package jwks

import (
	"context"
	"net/http"
	"time"

	"github.com/trailforge/authcore/pkg/errx"
)

// RSAKeyPair is one generation of signing key.
type RSAKeyPair struct {
	KID         string
	PrivatePEM  string
	PublicPEM   string
	KeySizeBits int
	CreatedAt   time.Time
	IsActive    bool
}

// KeyRepository persists keypairs, one row per generation.
type KeyRepository interface {
	Save(ctx context.Context, kp RSAKeyPair) error
	FindActive(ctx context.Context) (*RSAKeyPair, error)
	FindAll(ctx context.Context) ([]RSAKeyPair, error)
	FindByKID(ctx context.Context, kid string) (*RSAKeyPair, error)
	DeactivateAll(ctx context.Context) error
	DeleteOlderThan(ctx context.Context, keepCount int) error
}

var ErrRegistry = errx.NewRegistry("JWKS")

var (
	CodeTokenExpired   = ErrRegistry.Register("TOKEN_EXPIRED", errx.TypeAuthorization, http.StatusUnauthorized, "token has expired")
	CodeTokenInvalid   = ErrRegistry.Register("TOKEN_INVALID", errx.TypeAuthorization, http.StatusUnauthorized, "token is invalid")
	CodeTokenMalformed = ErrRegistry.Register("TOKEN_MALFORMED", errx.TypeValidation, http.StatusBadRequest, "token is malformed")
	CodeKeyNotFound    = ErrRegistry.Register("KEY_NOT_FOUND", errx.TypeNotFound, http.StatusUnauthorized, "signing key not found for kid")
	CodeKeyGeneration  = ErrRegistry.Register("KEY_GENERATION_FAILED", errx.TypeCrypto, http.StatusInternalServerError, "failed to generate RSA keypair")
)

func ErrTokenExpired() *errx.Error { return ErrRegistry.New(CodeTokenExpired) }

func ErrTokenInvalid(reason string) *errx.Error {
	return ErrRegistry.New(CodeTokenInvalid).WithDetail("reason", reason)
}

func ErrTokenMalformed(details string) *errx.Error {
	return ErrRegistry.New(CodeTokenMalformed).WithDetail("details", details)
}

func ErrKeyNotFound(kid string) *errx.Error {
	return ErrRegistry.New(CodeKeyNotFound).WithDetail("kid", kid)
}

func ErrKeyGeneration() *errx.Error { return ErrRegistry.New(CodeKeyGeneration) }
