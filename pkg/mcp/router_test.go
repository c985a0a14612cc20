package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/trailforge/authcore/pkg/iam/auth"
	"github.com/trailforge/authcore/pkg/iam/jwks"
	"github.com/trailforge/authcore/pkg/iam/tenant"
	"github.com/trailforge/authcore/pkg/iam/user"
	"github.com/trailforge/authcore/pkg/kernel"
	"github.com/trailforge/authcore/pkg/notifyqueue"
)

type rtUserRepo struct {
	byID map[string]user.User
}

func (r *rtUserRepo) FindByID(_ context.Context, id kernel.UserID) (*user.User, error) {
	u, ok := r.byID[id.String()]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}
func (r *rtUserRepo) FindByEmail(_ context.Context, _ string) (*user.User, error) { return nil, sql.ErrNoRows }
func (r *rtUserRepo) Save(_ context.Context, u user.User) error                   { r.byID[u.ID.String()] = u; return nil }
func (r *rtUserRepo) Touch(_ context.Context, _ kernel.UserID) error              { return nil }
func (r *rtUserRepo) UpdateStatus(_ context.Context, id kernel.UserID, status user.Status) error {
	u := r.byID[id.String()]
	u.Status = status
	r.byID[id.String()] = u
	return nil
}
func (r *rtUserRepo) UpdatePasswordHash(_ context.Context, id kernel.UserID, hash string) error {
	u := r.byID[id.String()]
	u.PasswordHash = hash
	r.byID[id.String()] = u
	return nil
}

type rtTenantRepo struct{}

func (rtTenantRepo) FindByID(_ context.Context, _ kernel.TenantID) (*tenant.Tenant, error) {
	return nil, sql.ErrNoRows
}
func (rtTenantRepo) Save(_ context.Context, _ tenant.Tenant) error { return nil }

type rtUserLookup struct {
	repo *rtUserRepo
}

func (l rtUserLookup) TenantIDOf(_ context.Context, userID kernel.UserID) (*kernel.TenantID, error) {
	u, ok := l.repo.byID[userID.String()]
	if !ok || u.TenantID == nil {
		return nil, nil
	}
	return u.TenantID, nil
}

func (l rtUserLookup) IsAdmin(_ context.Context, userID kernel.UserID) (bool, error) {
	u, ok := l.repo.byID[userID.String()]
	return ok && u.IsAdmin, nil
}

type rtKeyRepo struct {
	byKID map[string]jwks.RSAKeyPair
	order []string
}

func newRtKeyRepo() *rtKeyRepo { return &rtKeyRepo{byKID: map[string]jwks.RSAKeyPair{}} }

func (r *rtKeyRepo) Save(_ context.Context, kp jwks.RSAKeyPair) error {
	if _, ok := r.byKID[kp.KID]; !ok {
		r.order = append(r.order, kp.KID)
	}
	r.byKID[kp.KID] = kp
	return nil
}
func (r *rtKeyRepo) FindActive(_ context.Context) (*jwks.RSAKeyPair, error) {
	for _, kid := range r.order {
		if rec := r.byKID[kid]; rec.IsActive {
			return &rec, nil
		}
	}
	return nil, sql.ErrNoRows
}
func (r *rtKeyRepo) FindAll(_ context.Context) ([]jwks.RSAKeyPair, error) {
	out := make([]jwks.RSAKeyPair, 0, len(r.order))
	for _, kid := range r.order {
		out = append(out, r.byKID[kid])
	}
	return out, nil
}
func (r *rtKeyRepo) FindByKID(_ context.Context, kid string) (*jwks.RSAKeyPair, error) {
	rec, ok := r.byKID[kid]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &rec, nil
}
func (r *rtKeyRepo) DeactivateAll(_ context.Context) error {
	for kid, rec := range r.byKID {
		rec.IsActive = false
		r.byKID[kid] = rec
	}
	return nil
}
func (r *rtKeyRepo) DeleteOlderThan(_ context.Context, keep int) error {
	if len(r.order) <= keep {
		return nil
	}
	drop := r.order[:len(r.order)-keep]
	r.order = r.order[len(r.order)-keep:]
	for _, kid := range drop {
		delete(r.byKID, kid)
	}
	return nil
}

type rtNotifyRepo struct {
	rows map[string]notifyqueue.OAuthNotification
}

func newRtNotifyRepo() *rtNotifyRepo {
	return &rtNotifyRepo{rows: map[string]notifyqueue.OAuthNotification{}}
}
func (r *rtNotifyRepo) Store(_ context.Context, n notifyqueue.OAuthNotification) error {
	r.rows[n.ID] = n
	return nil
}
func (r *rtNotifyRepo) GetUnread(_ context.Context, userID kernel.UserID) ([]notifyqueue.OAuthNotification, error) {
	var out []notifyqueue.OAuthNotification
	for _, n := range r.rows {
		if n.UserID == userID && !n.Read {
			out = append(out, n)
		}
	}
	return out, nil
}
func (r *rtNotifyRepo) MarkRead(_ context.Context, id string, _ kernel.UserID) error {
	n := r.rows[id]
	n.Read = true
	r.rows[id] = n
	return nil
}
func (r *rtNotifyRepo) MarkAllRead(_ context.Context, userID kernel.UserID) error {
	for id, n := range r.rows {
		if n.UserID == userID {
			n.Read = true
			r.rows[id] = n
		}
	}
	return nil
}
func (r *rtNotifyRepo) GetAll(_ context.Context, userID kernel.UserID, _ *int) ([]notifyqueue.OAuthNotification, error) {
	return r.GetUnread(context.Background(), userID)
}

func newTestRouter(t *testing.T) (*Router, *rtUserRepo, kernel.UserID, string) {
	t.Helper()

	userRepo := &rtUserRepo{byID: map[string]user.User{}}
	users := user.NewService(userRepo, true)
	resolver := tenant.NewResolver(rtUserLookup{repo: userRepo}, rtTenantRepo{})

	signer, err := jwks.NewManager(context.Background(), newRtKeyRepo(), 1024)
	if err != nil {
		t.Fatalf("jwks.NewManager() error = %v", err)
	}

	authMW := auth.NewUnifiedAuthMiddleware(nil, nil, signer, users, resolver)

	registry := NewRegistry()
	registry.Register(&fakeTool{name: "tenant_tool"})
	gate := NewGate(registry, newMemCatalog())

	notifications := notifyqueue.NewService(newRtNotifyRepo())

	router := NewRouter(registry, gate, authMW, notifications, "2025-06-18", "authcore", "test")

	u, err := users.Register(context.Background(), "caller@example.com", "hunter2hunter2", nil)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	now := time.Now().UTC()
	claims := auth.SessionClaims{
		TenantID:   kernel.NewTenantID(u.ID.String()),
		Scopes:     []string{},
		AuthMethod: "session",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}

	token, err := signer.Sign(claims)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	return router, userRepo, u.ID, "Bearer " + token
}

func TestDispatchInitializeAndPing(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	resp := router.Dispatch(context.Background(), JSONRPCRequest{JSONRPC: "2.0", Method: "initialize"}, "")
	if resp.Error != nil {
		t.Fatalf("initialize returned error: %+v", resp.Error)
	}

	resp = router.Dispatch(context.Background(), JSONRPCRequest{JSONRPC: "2.0", Method: "ping"}, "")
	if resp.Error != nil {
		t.Fatalf("ping returned error: %+v", resp.Error)
	}
}

func TestDispatchUnknownMethodReturnsMethodNotFound(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	resp := router.Dispatch(context.Background(), JSONRPCRequest{JSONRPC: "2.0", Method: "not/a/real/method"}, "")
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected MethodNotFound, got %+v", resp.Error)
	}
}

func TestDispatchToolsListWithNoCredentialReturnsPublicOnly(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	resp := router.Dispatch(context.Background(), JSONRPCRequest{JSONRPC: "2.0", Method: "tools/list"}, "")
	if resp.Error != nil {
		t.Fatalf("tools/list returned error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result shape: %#v", resp.Result)
	}
	tools, ok := result["tools"].([]ToolDescriptor)
	if !ok || len(tools) != 0 {
		t.Fatalf("expected zero public tools (none registered), got %#v", result["tools"])
	}
}

func TestDispatchToolsCallExecutesAndAuthenticates(t *testing.T) {
	router, _, _, credential := newTestRouter(t)

	params, _ := json.Marshal(toolsCallParams{Name: "tenant_tool"})
	resp := router.Dispatch(context.Background(), JSONRPCRequest{JSONRPC: "2.0", Method: "tools/call", Params: params}, credential)
	if resp.Error != nil {
		t.Fatalf("tools/call returned error: %+v", resp.Error)
	}
}

func TestDispatchToolsCallRejectsMissingCredential(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	params, _ := json.Marshal(toolsCallParams{Name: "tenant_tool"})
	resp := router.Dispatch(context.Background(), JSONRPCRequest{JSONRPC: "2.0", Method: "tools/call", Params: params}, "")
	if resp.Error == nil {
		t.Fatal("expected an auth error for a tools/call with no credential")
	}
}
