package apikeysrv

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/trailforge/authcore/pkg/iam/apikey"
	"github.com/trailforge/authcore/pkg/kernel"
)

type memRepo struct {
	byID map[string]apikey.APIKey
}

func newMemRepo() *memRepo { return &memRepo{byID: map[string]apikey.APIKey{}} }

func (m *memRepo) Save(_ context.Context, key apikey.APIKey) error {
	m.byID[key.ID.String()] = key
	return nil
}

func (m *memRepo) FindByID(_ context.Context, id kernel.APIKeyID) (*apikey.APIKey, error) {
	k, ok := m.byID[id.String()]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &k, nil
}

func (m *memRepo) FindByPrefixAndHash(_ context.Context, prefix, hash string) (*apikey.APIKey, error) {
	for _, k := range m.byID {
		if k.KeyPrefix == prefix && k.KeyHash == hash {
			return &k, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memRepo) FindByUser(_ context.Context, userID kernel.UserID) ([]apikey.APIKey, error) {
	var out []apikey.APIKey
	for _, k := range m.byID {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memRepo) Deactivate(_ context.Context, id kernel.APIKeyID) error {
	k := m.byID[id.String()]
	k.IsActive = false
	m.byID[id.String()] = k
	return nil
}

func (m *memRepo) UpdateLastUsed(_ context.Context, id kernel.APIKeyID, when time.Time) error {
	k := m.byID[id.String()]
	k.LastUsedAt = &when
	m.byID[id.String()] = k
	return nil
}

func TestCreateAPIKeyAppliesTierDefaults(t *testing.T) {
	svc := NewService(newMemRepo())
	resp, err := svc.CreateAPIKey(context.Background(), kernel.NewUserID("u1"), "ci", nil, apikey.TierStarter, "test")
	if err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}
	if resp.Key.RateLimitRequests != 10_000 {
		t.Errorf("expected starter default of 10000, got %d", resp.Key.RateLimitRequests)
	}
	if resp.Key.ExpiresAt != nil {
		t.Error("expected no default expiry for non-trial tier")
	}
	if !apikey.ValidateFormat(resp.SecretKey) {
		t.Errorf("generated key fails its own format validator: %s", resp.SecretKey)
	}
}

func TestCreateAPIKeySetsTrialExpiry(t *testing.T) {
	svc := NewService(newMemRepo())
	resp, err := svc.CreateAPIKey(context.Background(), kernel.NewUserID("u1"), "trial-key", nil, apikey.TierTrial, "test")
	if err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}
	if resp.Key.ExpiresAt == nil {
		t.Fatal("expected trial tier to default an expiry")
	}
}

func TestValidateAPIKeyRoundTrip(t *testing.T) {
	svc := NewService(newMemRepo())
	ctx := context.Background()
	resp, err := svc.CreateAPIKey(ctx, kernel.NewUserID("u1"), "ci", nil, apikey.TierStarter, "test")
	if err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}

	got, err := svc.ValidateAPIKey(ctx, resp.SecretKey)
	if err != nil {
		t.Fatalf("ValidateAPIKey() error = %v", err)
	}
	if got.ID != resp.Key.ID {
		t.Errorf("expected to resolve the same key, got %v vs %v", got.ID, resp.Key.ID)
	}
}

func TestValidateAPIKeyRejectsBadFormat(t *testing.T) {
	svc := NewService(newMemRepo())
	if _, err := svc.ValidateAPIKey(context.Background(), "not-a-real-key"); err == nil {
		t.Error("expected malformed key to be rejected before any lookup")
	}
}

func TestValidateAPIKeyRejectsRevoked(t *testing.T) {
	svc := NewService(newMemRepo())
	ctx := context.Background()
	resp, err := svc.CreateAPIKey(ctx, kernel.NewUserID("u1"), "ci", nil, apikey.TierStarter, "test")
	if err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}
	if err := svc.RevokeAPIKey(ctx, resp.Key.ID); err != nil {
		t.Fatalf("RevokeAPIKey() error = %v", err)
	}
	if _, err := svc.ValidateAPIKey(ctx, resp.SecretKey); err == nil {
		t.Error("expected revoked key to be rejected")
	}
}

func TestValidateAPIKeyRejectsExpired(t *testing.T) {
	svc := NewService(newMemRepo())
	ctx := context.Background()
	resp, err := svc.CreateAPIKey(ctx, kernel.NewUserID("u1"), "ci", nil, apikey.TierTrial, "test")
	if err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}

	expired := resp.Key
	past := time.Now().UTC().Add(-time.Hour)
	expired.ExpiresAt = &past
	if err := svc.repo.(*memRepo).Save(ctx, expired); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := svc.ValidateAPIKey(ctx, resp.SecretKey); err == nil {
		t.Error("expected expired key to be rejected")
	}
}
