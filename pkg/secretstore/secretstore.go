// Package secretstore manages the small set of server-wide secrets authcore
// needs before it can do anything else: the symmetric token-encryption key
// and the admin JWT secret. Both are generated once, on first access, and
// persisted so every subsequent boot reuses the same value.
package secretstore

import (
	"context"
	"net/http"
	"time"

	"github.com/trailforge/authcore/pkg/errx"
)

// Well-known secret types stored in the secrets table.
const (
	TokenEncryptionKey = "token_encryption_key"
	AdminJWTSecret      = "admin_jwt_secret"

	secretLengthBytes = 32
)

// Secret is a single named server secret.
type Secret struct {
	Type      string
	Value     []byte
	CreatedAt time.Time
}

// Repository persists secrets, one row per secret type.
type Repository interface {
	Get(ctx context.Context, secretType string) (*Secret, error)
	Save(ctx context.Context, secret Secret) error
}

var ErrRegistry = errx.NewRegistry("SECRETSTORE")

var CodeGenerationFailed = ErrRegistry.Register("GENERATION_FAILED", errx.TypeCrypto, http.StatusInternalServerError, "failed to generate secret material")

func ErrGenerationFailed() *errx.Error {
	return ErrRegistry.New(CodeGenerationFailed)
}
