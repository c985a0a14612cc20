package user

import (
	"context"

	"github.com/trailforge/authcore/pkg/kernel"
)

// TenantIDOf and IsAdmin satisfy tenant.UserLookup, letting the tenant
// resolver consult user records without pkg/iam/user importing pkg/iam/tenant.

func (s *Service) TenantIDOf(ctx context.Context, userID kernel.UserID) (*kernel.TenantID, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.TenantID, nil
}

func (s *Service) IsAdmin(ctx context.Context, userID kernel.UserID) (bool, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.IsAdmin, nil
}
