package mcp

import (
	"context"

	"github.com/trailforge/authcore/pkg/kernel"
)

// Gate implements tools/list's three-tier visibility rule (spec.md §4.K):
// no/invalid credential sees only public discovery tools; a non-admin
// tenant caller sees its catalog's enabled set plus untracked (feature-
// flag) tools; an admin sees everything. Admin-only tools are excluded
// from every non-admin path regardless of catalog state — that check
// happens before the catalog is even consulted.
type Gate struct {
	registry *Registry
	catalog  CatalogRepository
}

func NewGate(registry *Registry, catalog CatalogRepository) *Gate {
	return &Gate{registry: registry, catalog: catalog}
}

// List returns the tools visible to authCtx/tenant. Both may be nil,
// meaning the caller presented no credential at all.
func (g *Gate) List(ctx context.Context, authCtx *kernel.AuthContext, tenant *kernel.TenantContext) ([]ToolDescriptor, error) {
	all := g.registry.All()

	if authCtx == nil || !authCtx.IsValid() {
		return describePublic(all), nil
	}

	if authCtx.IsAdmin() {
		return describe(all), nil
	}

	var tenantID kernel.TenantID
	if tenant != nil {
		tenantID = tenant.TenantID
	} else {
		tenantID = authCtx.TenantID
	}

	entries, err := g.catalog.FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	enabled := make(map[string]bool, len(entries))
	for _, e := range entries {
		enabled[e.ToolName] = e.Enabled
	}

	visible := make([]Tool, 0, len(all))
	for _, t := range all {
		if t.AdminOnly() {
			continue
		}
		if state, tracked := enabled[t.Name()]; tracked {
			if state {
				visible = append(visible, t)
			}
			continue
		}
		// not tracked in the catalog at all: feature-flag tools default on
		visible = append(visible, t)
	}
	return describe(visible), nil
}

// publicTag marks the handful of tools safe to expose with no credential
// at all: read-only discovery, never admin-only.
type publicTag interface {
	Public() bool
}

func describePublic(tools []Tool) []ToolDescriptor {
	visible := make([]Tool, 0, len(tools))
	for _, t := range tools {
		if pt, ok := t.(publicTag); ok && pt.Public() && !t.AdminOnly() {
			visible = append(visible, t)
		}
	}
	return describe(visible)
}

func describe(tools []Tool) []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}
	return out
}
