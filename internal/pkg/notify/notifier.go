package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/brandbridge/brandbridge/app/models"
	"github.com/brandbridge/brandbridge/app/repository"
	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/metrics"
)

// Publisher pushes stored notifications to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, n *models.Notification) error
}

// Service stores notifications. Notify never fails its caller: ledger
// mutations that trigger it are already committed.
type Service struct {
	repo      repository.NotificationRepository
	publisher Publisher
}

// NewService creates a notifier. publisher may be nil.
func NewService(repo repository.NotificationRepository, publisher Publisher) *Service {
	return &Service{repo: repo, publisher: publisher}
}

// Notify appends a notification row and publishes it. Failures are logged.
func (s *Service) Notify(ctx context.Context, userID, title, message, notificationType, relatedID string) {
	n := &models.Notification{
		UserID:    userID,
		Title:     strings.TrimSpace(title),
		Message:   strings.TrimSpace(message),
		Type:      notificationType,
		RelatedID: relatedID,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		metrics.NotificationsFailedTotal.Inc()
		log.Errorf("[Notify] Failed to store %s notification for %s: %v", notificationType, userID, err)
		return
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, n); err != nil {
		log.Warnf("[Notify] Failed to publish notification %d for %s: %v", n.ID, userID, err)
	}
}

// List is one page of notifications plus the unread count.
type List struct {
	Items  []models.Notification `json:"notifications"`
	Total  int64                 `json:"total"`
	Unread int64                 `json:"unread"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) (*List, error) {
	items, total, err := s.repo.ListByUser(ctx, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, apperror.Upstream("failed to load notifications", err)
	}
	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, apperror.Upstream("failed to count notifications", err)
	}
	if items == nil {
		items = []models.Notification{}
	}
	return &List{Items: items, Total: total, Unread: unread, Limit: limit, Offset: offset}, nil
}

// MarkRead marks one notification read. Repeating it is a no-op.
func (s *Service) MarkRead(ctx context.Context, userID string, id uint) error {
	if err := s.repo.MarkRead(ctx, userID, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.NotFound("Notification not found")
		}
		return apperror.Upstream("failed to update notification", err)
	}
	return nil
}

// MarkAllRead marks every unread notification of userID read.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, apperror.Upstream("failed to update notifications", err)
	}
	return n, nil
}
