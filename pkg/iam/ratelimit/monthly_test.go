package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/trailforge/authcore/pkg/iam/apikey"
	"github.com/trailforge/authcore/pkg/kernel"
)

type fakeUsageRepo struct {
	counts map[string]int
}

func (f fakeUsageRepo) Record(_ context.Context, _ apikey.Usage) error { return nil }

func (f fakeUsageRepo) CountSince(_ context.Context, apiKeyID kernel.APIKeyID, _ time.Time) (int, error) {
	return f.counts[apiKeyID.String()], nil
}

func TestMonthlyLimiterAllowsUnderLimit(t *testing.T) {
	repo := fakeUsageRepo{counts: map[string]int{"k1": 10}}
	limiter := NewMonthlyLimiter(repo)

	key := &apikey.APIKey{ID: kernel.NewAPIKeyID("k1"), Tier: apikey.TierStarter, RateLimitRequests: 100}
	status, err := limiter.Check(context.Background(), key)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if status.IsRateLimited {
		t.Error("expected not rate limited at 10/100")
	}
	if status.Remaining != 90 {
		t.Errorf("expected remaining 90, got %d", status.Remaining)
	}
}

func TestMonthlyLimiterBlocksAtLimit(t *testing.T) {
	repo := fakeUsageRepo{counts: map[string]int{"k1": 100}}
	limiter := NewMonthlyLimiter(repo)

	key := &apikey.APIKey{ID: kernel.NewAPIKeyID("k1"), Tier: apikey.TierStarter, RateLimitRequests: 100}
	status, err := limiter.Check(context.Background(), key)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !status.IsRateLimited {
		t.Error("expected rate limited at 100/100")
	}
	if status.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", status.Remaining)
	}
}

func TestMonthlyLimiterEnterpriseBypasses(t *testing.T) {
	repo := fakeUsageRepo{counts: map[string]int{"k1": 1_000_000}}
	limiter := NewMonthlyLimiter(repo)

	key := &apikey.APIKey{ID: kernel.NewAPIKeyID("k1"), Tier: apikey.TierEnterprise, RateLimitRequests: 0}
	status, err := limiter.Check(context.Background(), key)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if status.IsRateLimited {
		t.Error("expected enterprise tier to bypass the monthly limit")
	}
}

// Note: BurstLimiter and Sweeper are exercised against a real redis.Client
// and are covered by integration tests rather than here, consistent with
// how the rest of this codebase keeps Redis-backed components untested at
// the unit level in favor of the in-memory ports they sit behind.
