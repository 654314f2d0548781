package repository

import (
	"context"
	"time"

	"campuspulse/internal/models"
	"campuspulse/internal/observability"

	"gorm.io/gorm"
)

// NotificationRepository is the notification ledger.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, receiverID uint, limit, offset int) ([]*models.Notification, error)
	UnreadCount(ctx context.Context, receiverID uint) (int64, error)
	MarkRead(ctx context.Context, id, receiverID uint, at time.Time) error
	MarkAllRead(ctx context.Context, receiverID uint, at time.Time) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository returns a gorm-backed NotificationRepository.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *models.Notification) error {
	defer observability.TrackQuery("create", "notifications")()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	return mapError(r.db.WithContext(ctx).Create(n).Error, "notification", nil)
}

func (r *notificationRepository) List(ctx context.Context, receiverID uint, limit, offset int) ([]*models.Notification, error) {
	var out []*models.Notification
	err := r.db.WithContext(ctx).
		Where("receiver_id = ?", receiverID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, mapError(err, "notification", nil)
	}
	return out, nil
}

func (r *notificationRepository) UnreadCount(ctx context.Context, receiverID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("receiver_id = ? AND is_read = ?", receiverID, false).
		Count(&count).Error
	if err != nil {
		return 0, mapError(err, "notification", nil)
	}
	return count, nil
}

// MarkRead flips one notification to read. Already-read notifications keep their read_at.
func (r *notificationRepository) MarkRead(ctx context.Context, id, receiverID uint, at time.Time) error {
	db := r.db.WithContext(ctx)

	var n models.Notification
	if err := db.Select("id", "receiver_id").First(&n, id).Error; err != nil {
		return mapError(err, "notification", id)
	}
	if n.ReceiverID != receiverID {
		return models.NewForbiddenError("notification belongs to another user")
	}

	err := db.Model(&models.Notification{}).
		Where("id = ? AND is_read = ?", id, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at}).Error
	return mapError(err, "notification", id)
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, receiverID uint, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("receiver_id = ? AND is_read = ?", receiverID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	if res.Error != nil {
		return 0, mapError(res.Error, "notification", nil)
	}
	return res.RowsAffected, nil
}
