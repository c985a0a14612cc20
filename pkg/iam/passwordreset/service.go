package passwordreset

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/iam/user"
	"github.com/trailforge/authcore/pkg/logx"
)

const (
	tokenBytes     = 32
	defaultTokenTTL = 30 * time.Minute
)

// Service issues and redeems password-reset tokens. It leans on
// user.Service both to locate the account (without exposing whether one
// exists) and to write the new password once a token is redeemed.
type Service struct {
	users    *user.Service
	repo     Repository
	notifier Notifier
	tokenTTL time.Duration
}

func NewService(users *user.Service, repo Repository, notifier Notifier, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &Service{users: users, repo: repo, notifier: notifier, tokenTTL: tokenTTL}
}

// Request issues a new reset token for email and emails it, if and only if
// the email belongs to an account. Either way this returns nil: whether the
// account exists is never revealed to the caller.
func (s *Service) Request(ctx context.Context, email string) error {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if user.IsNotFound(err) {
			return nil
		}
		return err
	}

	if err := s.repo.InvalidateUserTokens(ctx, u.ID); err != nil {
		return errx.Wrap(err, "failed to invalidate existing reset tokens", errx.TypeInternal)
	}

	tokenValue, err := randomOpaqueToken()
	if err != nil {
		return errx.Wrap(err, "failed to generate reset token", errx.TypeCrypto)
	}

	if err := s.repo.StoreToken(ctx, u.ID, hashToken(tokenValue), "self-service"); err != nil {
		return errx.Wrap(err, "failed to store reset token", errx.TypeInternal)
	}

	if err := s.notifier.SendPasswordResetEmail(ctx, u.Email, tokenValue); err != nil {
		logx.Warnf("passwordreset: failed to send reset email: %v", err)
	}
	return nil
}

// Confirm redeems a reset token and sets the account's new password. The
// token is consumed even when the password update itself somehow fails, so
// a single token can never be replayed.
func (s *Service) Confirm(ctx context.Context, token, newPassword string) error {
	userID, err := s.repo.ConsumeToken(ctx, hashToken(token), s.tokenTTL, time.Now().UTC())
	if err != nil {
		return err
	}
	return s.users.SetPassword(ctx, userID, newPassword)
}

func randomOpaqueToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
