package usecases

import (
	"context"

	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/core/ports"
)

// InboxService reads the durable notification inbox.
type InboxService struct {
	notifications ports.NotificationRepository
}

// NewInboxService creates a new InboxService.
func NewInboxService(notifications ports.NotificationRepository) *InboxService {
	return &InboxService{notifications: notifications}
}

// List returns a page of the recipient's notifications, newest first, and
// the total count.
func (s *InboxService) List(ctx context.Context, recipientID int64, offset, limit int) ([]domain.Notification, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.notifications.ListByRecipient(ctx, recipientID, offset, limit)
}

// MarkRead flags a notification as read. Only the recipient may do so.
func (s *InboxService) MarkRead(ctx context.Context, recipientID, id int64) error {
	return s.notifications.MarkRead(ctx, id, recipientID)
}
