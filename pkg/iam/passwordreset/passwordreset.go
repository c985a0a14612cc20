// Package passwordreset issues and redeems one-shot tokens for the
// forgot-password flow. It never stores a token in the clear: the database
// holds only the sha256 hash, and the opaque value is handed to the caller
// exactly once, at issuance time.
package passwordreset

import (
	"context"
	"net/http"
	"time"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/kernel"
)

// Repository persists reset tokens keyed by their hash.
type Repository interface {
	// StoreToken records a new token for userID, hashed by the caller.
	StoreToken(ctx context.Context, userID kernel.UserID, tokenHash, createdBy string) error
	// ConsumeToken atomically marks the matching unconsumed, unexpired
	// token as used and returns the user it was issued for. A mismatch on
	// hash, a prior consumption, or an expired token all report
	// ErrTokenNotFound.
	ConsumeToken(ctx context.Context, tokenHash string, maxAge time.Duration, now time.Time) (kernel.UserID, error)
	// InvalidateUserTokens consumes every outstanding token for userID,
	// so requesting a new reset link retires any older ones.
	InvalidateUserTokens(ctx context.Context, userID kernel.UserID) error
}

// Notifier delivers the reset link/token to the account holder. Delivery
// failures are logged but never surface to the caller of Service.Request —
// confirming or denying that an email has an account by way of a failed
// send would defeat the point of responding identically either way.
type Notifier interface {
	SendPasswordResetEmail(ctx context.Context, toEmail, token string) error
}

var ErrRegistry = errx.NewRegistry("PASSWORDRESET")

var (
	CodeTokenNotFound = ErrRegistry.Register("TOKEN_NOT_FOUND", errx.TypeValidation, http.StatusBadRequest, "reset token is invalid or has expired")
)

func ErrTokenNotFound() *errx.Error { return ErrRegistry.New(CodeTokenNotFound) }
