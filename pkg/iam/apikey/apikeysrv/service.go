package apikeysrv

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/iam/apikey"
	"github.com/trailforge/authcore/pkg/kernel"
)

// Service implements API key creation, lookup, and revocation over a
// Repository.
type Service struct {
	repo apikey.Repository
}

func NewService(repo apikey.Repository) *Service {
	return &Service{repo: repo}
}

// CreateAPIKeyResponse carries the one-time plaintext key back to the
// caller; only KeyHash/KeyPrefix are ever persisted or logged.
type CreateAPIKeyResponse struct {
	Key       apikey.APIKey
	SecretKey string
}

// CreateAPIKey mints a new key for userID at the given tier and environment
// ("live" or "test"), applying the tier's default rate limit and, for trial
// keys, the 14-day default expiry.
func (s *Service) CreateAPIKey(ctx context.Context, userID kernel.UserID, name string, description *string, tier apikey.Tier, env string) (*CreateAPIKeyResponse, error) {
	full, prefix, hash, err := apikey.GenerateAPIKey(env)
	if err != nil {
		return nil, err
	}

	requests, window := apikey.TierLimits(tier)
	now := time.Now().UTC()

	var expiresAt *time.Time
	if tier == apikey.TierTrial {
		e := apikey.TrialExpiry(now)
		expiresAt = &e
	}

	key := apikey.APIKey{
		ID:                     kernel.NewAPIKeyID(uuid.NewString()),
		UserID:                 userID,
		Name:                   name,
		KeyPrefix:              prefix,
		KeyHash:                hash,
		Description:            description,
		Tier:                   tier,
		RateLimitRequests:      requests,
		RateLimitWindowSeconds: window,
		IsActive:               true,
		ExpiresAt:              expiresAt,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if err := s.repo.Save(ctx, key); err != nil {
		return nil, errx.Wrap(err, "failed to create API key", errx.TypeInternal)
	}

	return &CreateAPIKeyResponse{Key: key, SecretKey: full}, nil
}

// ListByUser returns every key a user owns (active and revoked).
func (s *Service) ListByUser(ctx context.Context, userID kernel.UserID) ([]apikey.APIKey, error) {
	keys, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		return nil, errx.Wrap(err, "failed to list API keys", errx.TypeInternal)
	}
	return keys, nil
}

// RevokeAPIKey deactivates a key. Revocation is permanent; there is no
// reactivate operation.
func (s *Service) RevokeAPIKey(ctx context.Context, id kernel.APIKeyID) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return errx.Wrap(err, "failed to revoke API key", errx.TypeInternal)
	}
	return nil
}

// ValidateAPIKey checks format, looks the key up by prefix+hash, and
// enforces active/not-expired before returning it. Last-used tracking is
// fire-and-forget so it never adds latency to the calling request.
func (s *Service) ValidateAPIKey(ctx context.Context, keyString string) (*apikey.APIKey, error) {
	if !apikey.ValidateFormat(keyString) {
		return nil, apikey.ErrInvalid()
	}

	prefix := keyString[:12]
	hash := apikey.HashAPIKey(keyString)

	key, err := s.repo.FindByPrefixAndHash(ctx, prefix, hash)
	if err != nil {
		return nil, apikey.ErrInvalid()
	}

	if !key.IsActive {
		return nil, apikey.ErrInvalid()
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now().UTC()) {
		return nil, apikey.ErrExpired()
	}

	go s.repo.UpdateLastUsed(context.Background(), key.ID, time.Now().UTC())

	return key, nil
}
