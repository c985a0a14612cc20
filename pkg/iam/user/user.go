// Package user owns account records: registration, authentication, and
// status transitions independent of any particular credential scheme.
package user

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/kernel"
)

// Status is the account lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// User is an account record.
type User struct {
	ID            kernel.UserID
	Email         string
	DisplayName   *string
	PasswordHash  string
	TenantID      *kernel.TenantID
	Status        Status
	IsAdmin       bool
	FirebaseUID   *string
	CreatedAt     time.Time
	LastActiveAt  time.Time
}

// NormalizeEmail case-folds an email the same way on registration, lookup,
// and authentication, so "User@Example.com" and "user@example.com" are the
// same account.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Repository persists users.
type Repository interface {
	FindByID(ctx context.Context, id kernel.UserID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Save(ctx context.Context, u User) error
	Touch(ctx context.Context, id kernel.UserID) error
	UpdateStatus(ctx context.Context, id kernel.UserID, status Status) error
	UpdatePasswordHash(ctx context.Context, id kernel.UserID, hash string) error
}

var ErrRegistry = errx.NewRegistry("USER")

var (
	CodeEmailTaken     = ErrRegistry.Register("EMAIL_TAKEN", errx.TypeConflict, http.StatusConflict, "an account with this email already exists")
	CodeNotFound       = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "user not found")
	CodeInvalidCreds   = ErrRegistry.Register("INVALID_CREDENTIALS", errx.TypeAuthorization, http.StatusUnauthorized, "invalid email or password")
	CodePending        = ErrRegistry.Register("PENDING", errx.TypeAuthorization, http.StatusForbidden, "account is pending approval")
	CodeSuspended      = ErrRegistry.Register("SUSPENDED", errx.TypeAuthorization, http.StatusForbidden, "account is suspended")
)

func ErrEmailTaken() *errx.Error        { return ErrRegistry.New(CodeEmailTaken) }
func ErrUserNotFound() *errx.Error      { return ErrRegistry.New(CodeNotFound) }
func ErrInvalidCredentials() *errx.Error { return ErrRegistry.New(CodeInvalidCreds) }
func ErrUserPending() *errx.Error       { return ErrRegistry.New(CodePending) }
func ErrUserSuspended() *errx.Error     { return ErrRegistry.New(CodeSuspended) }

// IsNotFound reports whether err is (or wraps) CodeNotFound, the shape
// every lookup in this package returns for a missing account.
func IsNotFound(err error) bool {
	var e *errx.Error
	return errors.As(err, &e) && e.Code == CodeNotFound.Code
}
