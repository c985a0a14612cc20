// Package notifyqueue stores OAuth upstream-connection outcomes for later
// delivery to the user, since the callback that learns the outcome and the
// MCP session that can show it to the user are never the same request.
package notifyqueue

import (
	"context"
	"net/http"
	"time"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/kernel"
)

// OAuthNotification records the outcome of one upstream OAuth connection
// attempt (component H), delivered at-least-once via response augmentation
// rather than push.
type OAuthNotification struct {
	ID        string
	UserID    kernel.UserID
	Provider  string
	Success   bool
	Message   string
	ExpiresAt *time.Time
	Read      bool
	CreatedAt time.Time
}

// Repository persists notifications. Delivery is at-least-once: a
// notification is only marked read after it was actually included in a
// response the caller received, never before.
type Repository interface {
	Store(ctx context.Context, n OAuthNotification) error
	GetUnread(ctx context.Context, userID kernel.UserID) ([]OAuthNotification, error)
	MarkRead(ctx context.Context, id string, userID kernel.UserID) error
	MarkAllRead(ctx context.Context, userID kernel.UserID) error
	GetAll(ctx context.Context, userID kernel.UserID, limit *int) ([]OAuthNotification, error)
}

var ErrRegistry = errx.NewRegistry("NOTIFYQUEUE")

var CodeNotFound = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "notification not found")

func ErrNotFound() *errx.Error { return ErrRegistry.New(CodeNotFound) }
