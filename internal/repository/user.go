package repository

import (
	"context"
	"time"

	"campuspulse/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository is the user directory: identities, presence columns and follower edges.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByUsernames(ctx context.Context, usernames []string) ([]*models.User, error)
	SetPresence(ctx context.Context, userID uint, online bool, at time.Time) error
	Follow(ctx context.Context, followerID, followingID uint) (bool, error)
	Unfollow(ctx context.Context, followerID, followingID uint) error
	FollowerIDs(ctx context.Context, userID uint) ([]uint, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	return mapError(r.db.WithContext(ctx).Create(user).Error, "user", user.Username)
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, mapError(err, "user", id)
	}
	return &user, nil
}

// GetByUsernames matches case-insensitively; usernames must be passed lowercased.
func (r *userRepository) GetByUsernames(ctx context.Context, usernames []string) ([]*models.User, error) {
	var users []*models.User
	if len(usernames) == 0 {
		return users, nil
	}
	if err := r.db.WithContext(ctx).Where("LOWER(username) IN ?", usernames).Find(&users).Error; err != nil {
		return nil, mapError(err, "user", nil)
	}
	return users, nil
}

// SetPresence writes the online flag and last-seen time. A write older than the stored
// last-seen time is ignored, so a late offline update cannot override a newer online one.
func (r *userRepository) SetPresence(ctx context.Context, userID uint, online bool, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND (last_seen_at IS NULL OR last_seen_at <= ?)", userID, at).
		Updates(map[string]interface{}{"is_online": online, "last_seen_at": at}).Error
	return mapError(err, "user", userID)
}

func (r *userRepository) Follow(ctx context.Context, followerID, followingID uint) (bool, error) {
	if followerID == followingID {
		return false, models.NewInvalidInputError("cannot follow yourself")
	}
	if _, err := r.GetByID(ctx, followingID); err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Follow{FollowerID: followerID, FollowingID: followingID})
	if res.Error != nil {
		return false, mapError(res.Error, "follow", followingID)
	}
	return res.RowsAffected == 1, nil
}

func (r *userRepository) Unfollow(ctx context.Context, followerID, followingID uint) error {
	err := r.db.WithContext(ctx).
		Where("follower_id = ? AND following_id = ?", followerID, followingID).
		Delete(&models.Follow{}).Error
	return mapError(err, "follow", followingID)
}

func (r *userRepository) FollowerIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Follow{}).
		Where("following_id = ?", userID).
		Order("follower_id").
		Pluck("follower_id", &ids).Error
	if err != nil {
		return nil, mapError(err, "follow", nil)
	}
	return ids, nil
}
