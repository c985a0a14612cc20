package tenant

import (
	"context"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/kernel"
)

// UserLookup is the narrow slice of the user domain the resolver needs,
// kept local here so this package doesn't depend on all of pkg/iam/user.
type UserLookup interface {
	TenantIDOf(ctx context.Context, userID kernel.UserID) (*kernel.TenantID, error)
	IsAdmin(ctx context.Context, userID kernel.UserID) (bool, error)
}

// Resolver picks the tenant a request operates under.
type Resolver struct {
	users UserLookup
	repo  Repository
}

func NewResolver(users UserLookup, repo Repository) *Resolver {
	return &Resolver{users: users, repo: repo}
}

// Resolve implements the tenant-selection precedence: an explicit hint (only
// if the user actually belongs to it), else the user's stored tenant, else a
// single-tenant fallback where tenant_id == user_id.
func (r *Resolver) Resolve(ctx context.Context, userID kernel.UserID, hint *kernel.TenantID) (*kernel.TenantContext, error) {
	isAdmin, err := r.users.IsAdmin(ctx, userID)
	if err != nil {
		return nil, errx.Wrap(err, "failed to resolve user for tenant lookup", errx.TypeInternal)
	}

	stored, err := r.users.TenantIDOf(ctx, userID)
	if err != nil {
		return nil, errx.Wrap(err, "failed to load user's tenant", errx.TypeInternal)
	}

	var resolved kernel.TenantID
	switch {
	case hint != nil && !hint.IsEmpty() && stored != nil && stored.String() == hint.String():
		resolved = *hint
	case stored != nil && !stored.IsEmpty():
		resolved = *stored
	default:
		resolved = kernel.NewTenantID(userID.String())
	}

	return &kernel.TenantContext{
		TenantID: resolved,
		UserID:   userID,
		Role:     kernel.Role{IsAdmin: isAdmin},
	}, nil
}
