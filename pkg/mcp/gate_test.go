package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/trailforge/authcore/pkg/kernel"
)

type fakeTool struct {
	name      string
	adminOnly bool
	public    bool
}

func (t *fakeTool) Name() string               { return t.name }
func (t *fakeTool) Description() string        { return "test tool " + t.name }
func (t *fakeTool) AdminOnly() bool             { return t.adminOnly }
func (t *fakeTool) Public() bool                { return t.public }
func (t *fakeTool) Schema() map[string]any      { return map[string]any{"type": "object"} }
func (t *fakeTool) Execute(_ context.Context, _ *kernel.AuthContext, _ *kernel.TenantContext, _ json.RawMessage) (any, error) {
	return nil, nil
}

type memCatalog struct {
	byTenant map[string][]CatalogEntry
}

func newMemCatalog() *memCatalog {
	return &memCatalog{byTenant: map[string][]CatalogEntry{}}
}

func (c *memCatalog) FindByTenant(_ context.Context, tenantID kernel.TenantID) ([]CatalogEntry, error) {
	return c.byTenant[tenantID.String()], nil
}

func (c *memCatalog) Upsert(_ context.Context, entry CatalogEntry) error {
	c.byTenant[entry.TenantID.String()] = append(c.byTenant[entry.TenantID.String()], entry)
	return nil
}

func namesOf(descs []ToolDescriptor) []string {
	names := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
	}
	return names
}

func contains(names []string, target string) bool {
	for _, n := range names {
		if n == target {
			return true
		}
	}
	return false
}

func TestGateListNoCredentialSeesOnlyPublicTools(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&fakeTool{name: "server_info", public: true})
	registry.Register(&fakeTool{name: "secret_admin_tool", adminOnly: true})
	registry.Register(&fakeTool{name: "private_tenant_tool"})

	gate := NewGate(registry, newMemCatalog())

	descs, err := gate.List(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	names := namesOf(descs)
	if len(names) != 1 || !contains(names, "server_info") {
		t.Fatalf("expected only the public tool, got %v", names)
	}
}

func TestGateListNonAdminExcludesAdminOnlyRegardlessOfCatalog(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&fakeTool{name: "admin_tool", adminOnly: true})
	registry.Register(&fakeTool{name: "tenant_tool"})

	catalog := newMemCatalog()
	tenantID := kernel.NewTenantID("tenant-1")
	// even if the catalog explicitly marks the admin tool enabled, Gate
	// must still exclude it from a non-admin caller.
	catalog.Upsert(context.Background(), CatalogEntry{TenantID: tenantID, ToolName: "admin_tool", Enabled: true})

	gate := NewGate(registry, catalog)
	userID := kernel.NewUserID("user-1")
	authCtx := &kernel.AuthContext{UserID: &userID, TenantID: tenantID, Scopes: []string{}}

	descs, err := gate.List(context.Background(), authCtx, nil)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	names := namesOf(descs)
	if contains(names, "admin_tool") {
		t.Fatal("admin-only tool leaked into a non-admin caller's tool list")
	}
	if !contains(names, "tenant_tool") {
		t.Fatal("untracked (feature-flag) tool should default to visible")
	}
}

func TestGateListDisabledCatalogEntryHidesTool(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&fakeTool{name: "tenant_tool"})

	catalog := newMemCatalog()
	tenantID := kernel.NewTenantID("tenant-1")
	catalog.Upsert(context.Background(), CatalogEntry{TenantID: tenantID, ToolName: "tenant_tool", Enabled: false})

	gate := NewGate(registry, catalog)
	userID := kernel.NewUserID("user-1")
	authCtx := &kernel.AuthContext{UserID: &userID, TenantID: tenantID, Scopes: []string{}}

	descs, err := gate.List(context.Background(), authCtx, nil)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if contains(namesOf(descs), "tenant_tool") {
		t.Fatal("explicitly disabled catalog entry should hide the tool")
	}
}

func TestGateListAdminSeesEverything(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&fakeTool{name: "admin_tool", adminOnly: true})
	registry.Register(&fakeTool{name: "tenant_tool"})

	gate := NewGate(registry, newMemCatalog())
	userID := kernel.NewUserID("admin-1")
	tenantID := kernel.NewTenantID("tenant-1")
	authCtx := &kernel.AuthContext{UserID: &userID, TenantID: tenantID, Scopes: []string{"admin:*"}}

	descs, err := gate.List(context.Background(), authCtx, nil)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	names := namesOf(descs)
	if !contains(names, "admin_tool") || !contains(names, "tenant_tool") {
		t.Fatalf("admin should see every tool, got %v", names)
	}
}
