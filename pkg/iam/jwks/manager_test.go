package jwks

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type memKeyRepo struct {
	byKID map[string]RSAKeyPair
	order []string
}

func newMemKeyRepo() *memKeyRepo {
	return &memKeyRepo{byKID: map[string]RSAKeyPair{}}
}

func (m *memKeyRepo) Save(_ context.Context, kp RSAKeyPair) error {
	if _, exists := m.byKID[kp.KID]; !exists {
		m.order = append(m.order, kp.KID)
	}
	m.byKID[kp.KID] = kp
	return nil
}

func (m *memKeyRepo) FindActive(_ context.Context) (*RSAKeyPair, error) {
	for _, kid := range m.order {
		if rec := m.byKID[kid]; rec.IsActive {
			return &rec, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memKeyRepo) FindAll(_ context.Context) ([]RSAKeyPair, error) {
	out := make([]RSAKeyPair, 0, len(m.order))
	for _, kid := range m.order {
		out = append(out, m.byKID[kid])
	}
	return out, nil
}

func (m *memKeyRepo) FindByKID(_ context.Context, kid string) (*RSAKeyPair, error) {
	rec, ok := m.byKID[kid]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &rec, nil
}

func (m *memKeyRepo) DeactivateAll(_ context.Context) error {
	for kid, rec := range m.byKID {
		rec.IsActive = false
		m.byKID[kid] = rec
	}
	return nil
}

func (m *memKeyRepo) DeleteOlderThan(_ context.Context, keepCount int) error {
	if len(m.order) <= keepCount {
		return nil
	}
	toDrop := m.order[:len(m.order)-keepCount]
	m.order = m.order[len(m.order)-keepCount:]
	for _, kid := range toDrop {
		delete(m.byKID, kid)
	}
	return nil
}

type testClaims struct {
	jwt.RegisteredClaims
}

func TestNewManagerGeneratesFirstKeyWhenEmpty(t *testing.T) {
	mgr, err := NewManager(context.Background(), newMemKeyRepo(), 1024)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if mgr.activeKID == "" {
		t.Fatal("expected an active key after NewManager on empty repo")
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	mgr, err := NewManager(context.Background(), newMemKeyRepo(), 1024)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	claims := testClaims{jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}

	signed, err := mgr.Sign(claims)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	var parsed testClaims
	token, err := mgr.Verify(signed, &parsed)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !token.Valid {
		t.Error("expected token to be valid")
	}
	if parsed.Subject != "user-1" {
		t.Errorf("expected subject user-1, got %s", parsed.Subject)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	mgr, err := NewManager(context.Background(), newMemKeyRepo(), 1024)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	claims := testClaims{jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}
	signed, err := mgr.Sign(claims)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	var parsed testClaims
	if _, err := mgr.Verify(signed, &parsed); err == nil {
		t.Error("expected Verify() to reject an expired token")
	}
}

func TestRotateKeepsOldKeyVerifiable(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(ctx, newMemKeyRepo(), 1024)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	claims := testClaims{jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	signed, err := mgr.Sign(claims)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if err := mgr.Rotate(ctx); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	var parsed testClaims
	if _, err := mgr.Verify(signed, &parsed); err != nil {
		t.Errorf("expected pre-rotation token to still verify, got error = %v", err)
	}
}

func TestPublishJWKSIncludesAllLoadedKeys(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(ctx, newMemKeyRepo(), 1024)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if err := mgr.Rotate(ctx); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	set, err := mgr.PublishJWKS()
	if err != nil {
		t.Fatalf("PublishJWKS() error = %v", err)
	}
	if len(set.Keys) != 2 {
		t.Fatalf("expected 2 keys after one rotation, got %d", len(set.Keys))
	}
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Alg != "RS256" {
			t.Errorf("unexpected JWK shape: %+v", k)
		}
	}
}
