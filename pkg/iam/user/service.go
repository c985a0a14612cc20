package user

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/kernel"
)

// Service implements registration and authentication against a Repository.
type Service struct {
	repo             Repository
	autoApproveUsers bool
}

func NewService(repo Repository, autoApproveUsers bool) *Service {
	return &Service{repo: repo, autoApproveUsers: autoApproveUsers}
}

// Register creates a new account. The password is bcrypt-hashed before
// storage; the account starts Pending unless auto-approval is configured.
func (s *Service) Register(ctx context.Context, email, password string, displayName *string) (*User, error) {
	normalized := NormalizeEmail(email)

	existing, err := s.repo.FindByEmail(ctx, normalized)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, errx.Wrap(err, "failed to check for existing account", errx.TypeInternal)
	}
	if existing != nil {
		return nil, ErrEmailTaken()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errx.Wrap(err, "failed to hash password", errx.TypeCrypto)
	}

	status := StatusPending
	if s.autoApproveUsers {
		status = StatusActive
	}

	now := time.Now().UTC()
	u := User{
		ID:           kernel.NewUserID(uuid.NewString()),
		Email:        normalized,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Status:       status,
		CreatedAt:    now,
		LastActiveAt: now,
	}

	if err := s.repo.Save(ctx, u); err != nil {
		return nil, errx.Wrap(err, "failed to create account", errx.TypeInternal)
	}
	return &u, nil
}

// Authenticate verifies email/password and enforces that only Active users
// obtain a session: Pending and Suspended accounts are rejected even when
// the password matches.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	normalized := NormalizeEmail(email)

	u, err := s.repo.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials()
		}
		return nil, errx.Wrap(err, "failed to load account", errx.TypeInternal)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials()
	}

	switch u.Status {
	case StatusPending:
		return nil, ErrUserPending()
	case StatusSuspended, StatusDeleted:
		return nil, ErrUserSuspended()
	}

	if err := s.repo.Touch(ctx, u.ID); err != nil {
		return nil, errx.Wrap(err, "failed to update last_active", errx.TypeInternal)
	}
	return u, nil
}

// Get fetches a user by ID.
func (s *Service) Get(ctx context.Context, id kernel.UserID) (*User, error) {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound()
		}
		return nil, errx.Wrap(err, "failed to load account", errx.TypeInternal)
	}
	return u, nil
}

// FindByEmail looks up an account by email, case-folding the same way
// Register and Authenticate do.
func (s *Service) FindByEmail(ctx context.Context, email string) (*User, error) {
	u, err := s.repo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound()
		}
		return nil, errx.Wrap(err, "failed to load account", errx.TypeInternal)
	}
	return u, nil
}

// SetStatus transitions a user's lifecycle status (e.g. admin approval or
// suspension).
func (s *Service) SetStatus(ctx context.Context, id kernel.UserID, status Status) error {
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return errx.Wrap(err, "failed to update account status", errx.TypeInternal)
	}
	return nil
}

// SetPassword overwrites an account's password hash. Callers are
// responsible for having already verified the caller's right to do this
// (current password, or a consumed password-reset OTP).
func (s *Service) SetPassword(ctx context.Context, id kernel.UserID, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return errx.Wrap(err, "failed to hash password", errx.TypeCrypto)
	}
	if err := s.repo.UpdatePasswordHash(ctx, id, string(hash)); err != nil {
		return errx.Wrap(err, "failed to update password", errx.TypeInternal)
	}
	return nil
}
