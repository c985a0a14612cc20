package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/logx"
)

// BurstLimiter is a Redis-backed fixed-window token bucket protecting the
// OAuth2 endpoints (/authorize, /token, /register) from abuse, independent
// of MonthlyLimiter's per-API-key accounting.
type BurstLimiter struct {
	rdb    *redis.Client
	window time.Duration
}

func NewBurstLimiter(rdb *redis.Client, window time.Duration) *BurstLimiter {
	return &BurstLimiter{rdb: rdb, window: window}
}

func burstKey(bucket, identity string) string {
	return fmt.Sprintf("ratelimit:burst:%s:%s", bucket, identity)
}

// Allow increments the counter for (bucket, identity) and reports whether
// the call is within limit. The INCR + PEXPIRE pair is two round trips
// rather than a Lua script: acceptable here because a key racing past its
// first INCR without an expiry only ever extends the window by one burst
// cycle, never grants unbounded access.
func (l *BurstLimiter) Allow(ctx context.Context, bucket, identity string, limit int) (*Status, error) {
	key := burstKey(bucket, identity)

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return nil, errx.Wrap(err, "failed to increment burst counter", errx.TypeInternal)
	}
	if count == 1 {
		if err := l.rdb.PExpire(ctx, key, l.window).Err(); err != nil {
			return nil, errx.Wrap(err, "failed to set burst counter expiry", errx.TypeInternal)
		}
	}

	ttl, err := l.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return nil, errx.Wrap(err, "failed to read burst counter ttl", errx.TypeInternal)
	}
	resetAt := time.Now().Add(ttl)

	remaining := int(limit) - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return &Status{
		IsRateLimited: int(count) > limit,
		Limit:         limit,
		Remaining:     remaining,
		ResetAt:       resetAt,
	}, nil
}

// Sweeper periodically scans for burst keys that outlived their PEXPIRE
// (clock skew, a crashed Redis restore from an RDB snapshot predating the
// TTL) and deletes them, mirroring the "Start(ctx) background goroutine"
// shape the rest of the codebase uses for cleanup workers.
type Sweeper struct {
	rdb      *redis.Client
	interval time.Duration
}

func NewSweeper(rdb *redis.Client, interval time.Duration) *Sweeper {
	return &Sweeper{rdb: rdb, interval: interval}
}

// Start runs the sweep loop until ctx is canceled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	iter := s.rdb.Scan(ctx, 0, "ratelimit:burst:*", 200).Iterator()
	dropped := 0
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := s.rdb.PTTL(ctx, key).Result()
		if err != nil {
			continue
		}
		if ttl < 0 {
			if err := s.rdb.Del(ctx, key).Err(); err == nil {
				dropped++
			}
		}
	}
	if err := iter.Err(); err != nil {
		logx.Warnf("ratelimit: sweep scan error: %v", err)
		return
	}
	if dropped > 0 {
		logx.Infof("ratelimit: swept %d stale burst keys", dropped)
	}
}
