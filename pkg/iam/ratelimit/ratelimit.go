// Package ratelimit enforces the two independent rate limits API keys and
// OAuth2 endpoints are subject to: a monthly quota per API key (backed by
// Postgres/SQLite usage records) and a short burst window per tier (backed
// by Redis).
package ratelimit

import (
	"net/http"
	"time"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/kernel"
)

// Status is re-exported under this package's own name for callers that
// don't want to import pkg/kernel just for the type.
type Status = kernel.RateLimitStatus

var ErrRegistry = errx.NewRegistry("RATELIMIT")

var CodeExceeded = ErrRegistry.Register("EXCEEDED", errx.TypeRateLimit, http.StatusTooManyRequests, "rate limit exceeded")

func ErrExceeded(resetAt time.Time) *errx.Error {
	return ErrRegistry.New(CodeExceeded).WithDetail("reset_at", resetAt)
}
