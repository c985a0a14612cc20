package auth

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/trailforge/authcore/pkg/iam/jwks"
	"github.com/trailforge/authcore/pkg/iam/tenant"
	"github.com/trailforge/authcore/pkg/iam/user"
	"github.com/trailforge/authcore/pkg/kernel"
)

type memUserRepo struct {
	byID    map[string]user.User
	byEmail map[string]string
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: map[string]user.User{}, byEmail: map[string]string{}}
}

func (m *memUserRepo) FindByID(_ context.Context, id kernel.UserID) (*user.User, error) {
	u, ok := m.byID[id.String()]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

func (m *memUserRepo) FindByEmail(_ context.Context, email string) (*user.User, error) {
	id, ok := m.byEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return m.FindByID(context.Background(), kernel.NewUserID(id))
}

func (m *memUserRepo) Save(_ context.Context, u user.User) error {
	m.byID[u.ID.String()] = u
	m.byEmail[u.Email] = u.ID.String()
	return nil
}

func (m *memUserRepo) Touch(_ context.Context, id kernel.UserID) error {
	u := m.byID[id.String()]
	u.LastActiveAt = time.Now()
	m.byID[id.String()] = u
	return nil
}

func (m *memUserRepo) UpdateStatus(_ context.Context, id kernel.UserID, status user.Status) error {
	u := m.byID[id.String()]
	u.Status = status
	m.byID[id.String()] = u
	return nil
}

func (m *memUserRepo) UpdatePasswordHash(_ context.Context, id kernel.UserID, hash string) error {
	u := m.byID[id.String()]
	u.PasswordHash = hash
	m.byID[id.String()] = u
	return nil
}

type memTenantRepo struct{}

func (memTenantRepo) FindByID(_ context.Context, _ kernel.TenantID) (*tenant.Tenant, error) {
	return nil, sql.ErrNoRows
}
func (memTenantRepo) Save(_ context.Context, _ tenant.Tenant) error { return nil }

type userLookupAdapter struct {
	repo *memUserRepo
}

func (a userLookupAdapter) TenantIDOf(_ context.Context, userID kernel.UserID) (*kernel.TenantID, error) {
	u, ok := a.repo.byID[userID.String()]
	if !ok || u.TenantID == nil {
		return nil, nil
	}
	return u.TenantID, nil
}

func (a userLookupAdapter) IsAdmin(_ context.Context, userID kernel.UserID) (bool, error) {
	u, ok := a.repo.byID[userID.String()]
	return ok && u.IsAdmin, nil
}

type memKeyRepo struct {
	byKID map[string]jwks.RSAKeyPair
	order []string
}

func newMemKeyRepo() *memKeyRepo {
	return &memKeyRepo{byKID: map[string]jwks.RSAKeyPair{}}
}

func (m *memKeyRepo) Save(_ context.Context, kp jwks.RSAKeyPair) error {
	if _, exists := m.byKID[kp.KID]; !exists {
		m.order = append(m.order, kp.KID)
	}
	m.byKID[kp.KID] = kp
	return nil
}

func (m *memKeyRepo) FindActive(_ context.Context) (*jwks.RSAKeyPair, error) {
	for _, kid := range m.order {
		if rec := m.byKID[kid]; rec.IsActive {
			return &rec, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memKeyRepo) FindAll(_ context.Context) ([]jwks.RSAKeyPair, error) {
	out := make([]jwks.RSAKeyPair, 0, len(m.order))
	for _, kid := range m.order {
		out = append(out, m.byKID[kid])
	}
	return out, nil
}

func (m *memKeyRepo) FindByKID(_ context.Context, kid string) (*jwks.RSAKeyPair, error) {
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

type memTokenRepo struct {
	byHash map[string]RefreshToken
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{byHash: map[string]RefreshToken{}}
}

func (m *memTokenRepo) SaveRefreshToken(_ context.Context, token RefreshToken) error {
	m.byHash[token.TokenHash] = token
	return nil
}

func (m *memTokenRepo) FindRefreshToken(_ context.Context, tokenHash string) (*RefreshToken, error) {
	rt, ok := m.byHash[tokenHash]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &rt, nil
}

func (m *memTokenRepo) RevokeRefreshToken(_ context.Context, tokenHash string) error {
	rt := m.byHash[tokenHash]
	rt.IsRevoked = true
	m.byHash[tokenHash] = rt
	return nil
}

func (m *memTokenRepo) RevokeAllUserTokens(_ context.Context, userID kernel.UserID) error {
	for hash, rt := range m.byHash {
		if rt.UserID == userID {
			rt.IsRevoked = true
			m.byHash[hash] = rt
		}
	}
	return nil
}

type memAuditor struct {
	events []string
}

func (m *memAuditor) RecordLogin(_ context.Context, _ kernel.UserID, _ kernel.TenantID, success bool, _ string) error {
	if success {
		m.events = append(m.events, "login_succeeded")
	} else {
		m.events = append(m.events, "login_failed")
	}
	return nil
}

func (m *memAuditor) RecordRegistration(_ context.Context, _ kernel.UserID, _ kernel.TenantID, _ string) error {
	m.events = append(m.events, "registered")
	return nil
}

func (m *memAuditor) RecordRefresh(_ context.Context, _ kernel.UserID, _ kernel.TenantID, _ string) error {
	m.events = append(m.events, "refreshed")
	return nil
}

func newTestService(t *testing.T) (*Service, *memUserRepo, *memTokenRepo, *memAuditor) {
	t.Helper()
	userRepo := newMemUserRepo()
	users := user.NewService(userRepo, true)
	resolver := tenant.NewResolver(userLookupAdapter{repo: userRepo}, memTenantRepo{})

	signer, err := jwks.NewManager(context.Background(), newMemKeyRepo(), 1024)
	if err != nil {
		t.Fatalf("jwks.NewManager() error = %v", err)
	}

	tokens := newMemTokenRepo()
	auditor := &memAuditor{}

	svc := NewService(users, resolver, signer, tokens, auditor, time.Hour, 30*24*time.Hour)
	return svc, userRepo, tokens, auditor
}

func TestRegisterCreatesActiveAccountAndAudits(t *testing.T) {
	svc, _, _, auditor := newTestService(t)

	u, err := svc.Register(context.Background(), "new@example.com", "hunter2hunter2", nil, "127.0.0.1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if u.Status != user.StatusActive {
		t.Fatalf("Status = %q, want active (auto-approve enabled)", u.Status)
	}
	if len(auditor.events) != 1 || auditor.events[0] != "registered" {
		t.Fatalf("expected a registered audit event, got %v", auditor.events)
	}
}

func TestLoginIssuesSessionAndAudits(t *testing.T) {
	svc, _, tokens, auditor := newTestService(t)

	if _, err := svc.Register(context.Background(), "login@example.com", "hunter2hunter2", nil, "127.0.0.1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	result, err := svc.Login(context.Background(), "login@example.com", "hunter2hunter2", "127.0.0.1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("expected both an access and refresh token")
	}
	if len(tokens.byHash) != 1 {
		t.Fatalf("expected 1 persisted refresh token, got %d", len(tokens.byHash))
	}
	if len(auditor.events) != 2 || auditor.events[1] != "login_succeeded" {
		t.Fatalf("expected a login_succeeded audit event, got %v", auditor.events)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	if _, err := svc.Register(context.Background(), "wrong@example.com", "hunter2hunter2", nil, "127.0.0.1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := svc.Login(context.Background(), "wrong@example.com", "not-the-password", "127.0.0.1"); err == nil {
		t.Fatal("expected an error for a wrong password")
	}
}

func TestRefreshRotatesTokenAndIssuesNewAccessToken(t *testing.T) {
	svc, _, tokens, _ := newTestService(t)
	if _, err := svc.Register(context.Background(), "refresh@example.com", "hunter2hunter2", nil, "127.0.0.1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	first, err := svc.Login(context.Background(), "refresh@example.com", "hunter2hunter2", "127.0.0.1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	second, err := svc.Refresh(context.Background(), first.RefreshToken, "127.0.0.1")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("expected a rotated refresh token, got the same value back")
	}

	if _, err := svc.Refresh(context.Background(), first.RefreshToken, "127.0.0.1"); err == nil {
		t.Fatal("expected the used refresh token to be rejected on reuse")
	}
	_ = tokens
}

func TestRefreshRejectsUnknownToken(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	if _, err := svc.Refresh(context.Background(), "not-a-real-token", "127.0.0.1"); err == nil {
		t.Fatal("expected an error for an unknown refresh token")
	}
}
