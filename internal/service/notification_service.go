package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"campuspulse/internal/models"
	"campuspulse/internal/notifications"
	"campuspulse/internal/observability"
	"campuspulse/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Pusher delivers a live event to a user's personal channel and reports whether it tried.
type Pusher interface {
	User(ctx context.Context, userID uint, ev notifications.Event) (bool, error)
}

// NotificationService persists notifications and pushes them to online receivers.
type NotificationService struct {
	repo   repository.NotificationRepository
	pusher Pusher
	logger *slog.Logger
	now    func() time.Time
}

// CreateNotificationInput is the input for creating a notification.
type CreateNotificationInput struct {
	SenderID   uint
	ReceiverID uint
	Type       models.NotificationType
	Target     models.NotificationTarget
	Metadata   map[string]any
}

// NotificationPayload is the body of a new_notification event.
type NotificationPayload struct {
	ID       uint                    `json:"id"`
	Type     models.NotificationType `json:"type"`
	SenderID uint                    `json:"sender_id"`
	PostID   *uint                   `json:"post_id,omitempty"`
	ChatID   *uint                   `json:"chat_id,omitempty"`
	Metadata json.RawMessage         `json:"metadata,omitempty"`
}

// NewNotificationService returns a new NotificationService. pusher may be nil.
func NewNotificationService(repo repository.NotificationRepository, pusher Pusher, logger *slog.Logger) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationService{repo: repo, pusher: pusher, logger: logger, now: time.Now}
}

// Create validates and persists a notification, then pushes it if the receiver is online.
// A failed push is logged; the notification stays in the ledger for the next pull.
func (s *NotificationService) Create(ctx context.Context, in CreateNotificationInput) (*models.Notification, error) {
	n, err := models.NewNotification(in.SenderID, in.ReceiverID, in.Type, in.Target, in.Metadata)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	observability.NotificationsCreated.WithLabelValues(string(n.Type), "persisted").Inc()

	s.push(ctx, n)
	return n, nil
}

func (s *NotificationService) push(ctx context.Context, n *models.Notification) {
	if s.pusher == nil {
		return
	}
	ev, err := notifications.NewEvent(notifications.EventNewNotification, 0, NotificationPayload{
		ID:       n.ID,
		Type:     n.Type,
		SenderID: n.SenderID,
		PostID:   n.PostID,
		ChatID:   n.ChatID,
		Metadata: n.Metadata,
	})
	if err != nil {
		return
	}
	pushed, err := s.pusher.User(ctx, n.ReceiverID, ev)
	if err != nil {
		s.logger.WarnContext(ctx, "notification push failed",
			slog.Uint64("notification_id", uint64(n.ID)),
			slog.Uint64("receiver_id", uint64(n.ReceiverID)),
			slog.String("error", err.Error()),
		)
		return
	}
	if pushed {
		observability.NotificationPushes.Inc()
	}
}

// Notify is the best-effort boundary used by primary actions: it never returns an error.
// Self-notifications are skipped.
func (s *NotificationService) Notify(ctx context.Context, in CreateNotificationInput) {
	if in.SenderID == in.ReceiverID {
		return
	}
	if _, err := s.Create(ctx, in); err != nil {
		observability.NotificationsCreated.WithLabelValues(string(in.Type), "failed").Inc()
		s.logger.WarnContext(ctx, "notification dropped",
			slog.String("type", string(in.Type)),
			slog.Uint64("sender_id", uint64(in.SenderID)),
			slog.Uint64("receiver_id", uint64(in.ReceiverID)),
			slog.String("error", err.Error()),
		)
	}
}

// List returns one page of the receiver's notifications, newest first. page starts at 1.
func (s *NotificationService) List(ctx context.Context, receiverID uint, page, pageSize int) ([]*models.Notification, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return s.repo.List(ctx, receiverID, pageSize, (page-1)*pageSize)
}

// UnreadCount returns the receiver's unread notification count.
func (s *NotificationService) UnreadCount(ctx context.Context, receiverID uint) (int64, error) {
	return s.repo.UnreadCount(ctx, receiverID)
}

// MarkRead marks one notification read. Someone else's notification is Forbidden.
func (s *NotificationService) MarkRead(ctx context.Context, id, receiverID uint) error {
	return s.repo.MarkRead(ctx, id, receiverID, s.now())
}

// MarkAllRead marks every unread notification of the receiver read.
func (s *NotificationService) MarkAllRead(ctx context.Context, receiverID uint) (int64, error) {
	return s.repo.MarkAllRead(ctx, receiverID, s.now())
}
