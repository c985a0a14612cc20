// Package tenant owns tenant records and resolves which tenant a request
// operates under.
package tenant

import (
	"context"
	"net/http"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/kernel"
)

// Plan is the tenant's billing plan, which drives default API-key tiering.
type Plan string

const (
	PlanFree         Plan = "free"
	PlanStarter      Plan = "starter"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
)

// Tenant is a billing/isolation boundary.
type Tenant struct {
	ID   kernel.TenantID
	Plan Plan
}

// Repository persists tenants.
type Repository interface {
	FindByID(ctx context.Context, id kernel.TenantID) (*Tenant, error)
	Save(ctx context.Context, t Tenant) error
}

var ErrRegistry = errx.NewRegistry("TENANT")

var CodeNotFound = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "tenant not found")

func ErrTenantNotFound() *errx.Error { return ErrRegistry.New(CodeNotFound) }
