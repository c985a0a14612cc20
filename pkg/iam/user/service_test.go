package user

import (
	"context"
	"database/sql"
	"testing"

	"github.com/trailforge/authcore/pkg/kernel"
)

type memRepo struct {
	byID    map[string]User
	byEmail map[string]string
}

func newMemRepo() *memRepo {
	return &memRepo{byID: map[string]User{}, byEmail: map[string]string{}}
}

func (m *memRepo) FindByID(_ context.Context, id kernel.UserID) (*User, error) {
	u, ok := m.byID[id.String()]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

func (m *memRepo) FindByEmail(_ context.Context, email string) (*User, error) {
	id, ok := m.byEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	u := m.byID[id]
	return &u, nil
}

func (m *memRepo) Save(_ context.Context, u User) error {
	m.byID[u.ID.String()] = u
	m.byEmail[u.Email] = u.ID.String()
	return nil
}

func (m *memRepo) Touch(_ context.Context, id kernel.UserID) error {
	return nil
}

func (m *memRepo) UpdateStatus(_ context.Context, id kernel.UserID, status Status) error {
	u := m.byID[id.String()]
	u.Status = status
	m.byID[id.String()] = u
	return nil
}

func (m *memRepo) UpdatePasswordHash(_ context.Context, id kernel.UserID, hash string) error {
	u := m.byID[id.String()]
	u.PasswordHash = hash
	m.byID[id.String()] = u
	return nil
}

func TestRegisterDefaultsToPendingWithoutAutoApprove(t *testing.T) {
	svc := NewService(newMemRepo(), false)
	u, err := svc.Register(context.Background(), "New@Example.com", "hunter222", nil)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if u.Status != StatusPending {
		t.Errorf("expected status pending, got %s", u.Status)
	}
	if u.Email != "new@example.com" {
		t.Errorf("expected case-folded email, got %s", u.Email)
	}
}

func TestRegisterAutoApproves(t *testing.T) {
	svc := NewService(newMemRepo(), true)
	u, err := svc.Register(context.Background(), "a@example.com", "hunter222", nil)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if u.Status != StatusActive {
		t.Errorf("expected status active, got %s", u.Status)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc := NewService(newMemRepo(), true)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "dup@example.com", "hunter222", nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := svc.Register(ctx, "DUP@example.com", "otherpass", nil); err == nil {
		t.Error("expected duplicate email to be rejected")
	}
}

func TestAuthenticateRejectsPendingUser(t *testing.T) {
	svc := NewService(newMemRepo(), false)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "pending@example.com", "hunter222", nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := svc.Authenticate(ctx, "pending@example.com", "hunter222"); err == nil {
		t.Error("expected pending user to be rejected at authentication")
	}
}

func TestAuthenticateRejectsSuspendedUser(t *testing.T) {
	svc := NewService(newMemRepo(), true)
	ctx := context.Background()
	u, err := svc.Register(ctx, "susp@example.com", "hunter222", nil)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := svc.SetStatus(ctx, u.ID, StatusSuspended); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if _, err := svc.Authenticate(ctx, "susp@example.com", "hunter222"); err == nil {
		t.Error("expected suspended user to be rejected at authentication")
	}
}

func TestAuthenticateSucceedsForActiveUser(t *testing.T) {
	svc := NewService(newMemRepo(), true)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "ok@example.com", "hunter222", nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	u, err := svc.Authenticate(ctx, "OK@example.com", "hunter222")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if u.Email != "ok@example.com" {
		t.Errorf("unexpected user returned: %+v", u)
	}
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	svc := NewService(newMemRepo(), true)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "pw@example.com", "hunter222", nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := svc.Authenticate(ctx, "pw@example.com", "wrongpass"); err == nil {
		t.Error("expected wrong password to be rejected")
	}
}
