package notifyqueue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/kernel"
)

// Service is a thin wrapper over Repository that assigns IDs/timestamps so
// callers never have to.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Store(ctx context.Context, userID kernel.UserID, provider string, success bool, message string, expiresAt *time.Time) error {
	n := OAuthNotification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Provider:  provider,
		Success:   success,
		Message:   message,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Store(ctx, n); err != nil {
		return errx.Wrap(err, "failed to store notification", errx.TypeInternal)
	}
	return nil
}

func (s *Service) GetUnread(ctx context.Context, userID kernel.UserID) ([]OAuthNotification, error) {
	notifications, err := s.repo.GetUnread(ctx, userID)
	if err != nil {
		return nil, errx.Wrap(err, "failed to load unread notifications", errx.TypeInternal)
	}
	return notifications, nil
}

func (s *Service) MarkRead(ctx context.Context, id string, userID kernel.UserID) error {
	if err := s.repo.MarkRead(ctx, id, userID); err != nil {
		return errx.Wrap(err, "failed to mark notification read", errx.TypeInternal)
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID kernel.UserID) error {
	if err := s.repo.MarkAllRead(ctx, userID); err != nil {
		return errx.Wrap(err, "failed to mark all notifications read", errx.TypeInternal)
	}
	return nil
}

func (s *Service) GetAll(ctx context.Context, userID kernel.UserID, limit *int) ([]OAuthNotification, error) {
	notifications, err := s.repo.GetAll(ctx, userID, limit)
	if err != nil {
		return nil, errx.Wrap(err, "failed to load notifications", errx.TypeInternal)
	}
	return notifications, nil
}

// DrainUnread fetches every unread notification for userID and marks each
// one read, for the router to append to a tools/call response body. This is
// the one place "fetch" and "mark read" are combined, since a router
// response that includes a notification has, by definition, delivered it.
func (s *Service) DrainUnread(ctx context.Context, userID kernel.UserID) ([]OAuthNotification, error) {
	unread, err := s.GetUnread(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, n := range unread {
		if err := s.MarkRead(ctx, n.ID, userID); err != nil {
			return nil, err
		}
	}
	return unread, nil
}
