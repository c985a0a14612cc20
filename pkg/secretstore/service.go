package secretstore

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"time"

	"github.com/trailforge/authcore/pkg/errx"
)

// Store provides the GetOrCreate/Update surface used by the rest of the
// process. It is a thin wrapper over a Repository that adds the
// generate-on-first-access behavior.
type Store struct {
	repo Repository
}

func New(repo Repository) *Store {
	return &Store{repo: repo}
}

// GetOrCreate returns the current value for secretType, generating and
// persisting a fresh 32-byte CSPRNG value the first time it's requested.
func (s *Store) GetOrCreate(ctx context.Context, secretType string) ([]byte, error) {
	existing, err := s.repo.Get(ctx, secretType)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, errx.Wrap(err, "failed to load secret", errx.TypeInternal).
			WithDetail("secret_type", secretType)
	}
	if existing != nil {
		return existing.Value, nil
	}

	value := make([]byte, secretLengthBytes)
	if _, err := rand.Read(value); err != nil {
		return nil, ErrGenerationFailed().WithDetail("secret_type", secretType)
	}

	secret := Secret{Type: secretType, Value: value, CreatedAt: time.Now().UTC()}
	if err := s.repo.Save(ctx, secret); err != nil {
		return nil, errx.Wrap(err, "failed to persist generated secret", errx.TypeInternal).
			WithDetail("secret_type", secretType)
	}
	return value, nil
}

// Update overwrites the stored value for secretType, e.g. during a manual
// credential rotation.
func (s *Store) Update(ctx context.Context, secretType string, newValue []byte) error {
	secret := Secret{Type: secretType, Value: newValue, CreatedAt: time.Now().UTC()}
	if err := s.repo.Save(ctx, secret); err != nil {
		return errx.Wrap(err, "failed to update secret", errx.TypeInternal).
			WithDetail("secret_type", secretType)
	}
	return nil
}
