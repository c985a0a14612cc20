package ratelimit

import (
	"context"
	"time"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/iam/apikey"
)

// MonthlyLimiter enforces an API key's monthly request quota.
type MonthlyLimiter struct {
	usage apikey.UsageRepository
}

func NewMonthlyLimiter(usage apikey.UsageRepository) *MonthlyLimiter {
	return &MonthlyLimiter{usage: usage}
}

// Check counts usage since the start of the current UTC month and compares
// it against key.RateLimitRequests. Enterprise-tier keys (limit 0) always
// pass.
func (l *MonthlyLimiter) Check(ctx context.Context, key *apikey.APIKey) (*Status, error) {
	now := time.Now().UTC()
	windowStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	if key.Tier == apikey.TierEnterprise {
		return &Status{IsRateLimited: false, Limit: 0, Remaining: -1, ResetAt: nextMonth(windowStart)}, nil
	}

	current, err := l.usage.CountSince(ctx, key.ID, windowStart)
	if err != nil {
		return nil, errx.Wrap(err, "failed to count API key usage", errx.TypeInternal)
	}

	remaining := key.RateLimitRequests - current
	if remaining < 0 {
		remaining = 0
	}

	return &Status{
		IsRateLimited: current >= key.RateLimitRequests,
		Limit:         key.RateLimitRequests,
		Remaining:     remaining,
		ResetAt:       nextMonth(windowStart),
	}, nil
}

func nextMonth(windowStart time.Time) time.Time {
	return windowStart.AddDate(0, 1, 0)
}
