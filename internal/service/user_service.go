package service

import (
	"context"

	"campuspulse/internal/models"
	"campuspulse/internal/repository"
)

// PresenceChecker reports live presence on this instance.
type PresenceChecker interface {
	IsOnline(userID uint) bool
}

// UserService handles follower edges and presence reads.
type UserService struct {
	userRepo repository.UserRepository
	notes    *NotificationService
	presence PresenceChecker
}

// NewUserService returns a new UserService. presence may be nil.
func NewUserService(userRepo repository.UserRepository, notes *NotificationService, presence PresenceChecker) *UserService {
	return &UserService{userRepo: userRepo, notes: notes, presence: presence}
}

// Follow adds a follower edge and notifies the followed user the first time.
func (s *UserService) Follow(ctx context.Context, followerID, followingID uint) (bool, error) {
	created, err := s.userRepo.Follow(ctx, followerID, followingID)
	if err != nil {
		return false, err
	}
	if created {
		s.notes.Notify(ctx, CreateNotificationInput{
			SenderID:   followerID,
			ReceiverID: followingID,
			Type:       models.NotificationNewFollower,
		})
	}
	return created, nil
}

// Unfollow removes a follower edge.
func (s *UserService) Unfollow(ctx context.Context, followerID, followingID uint) error {
	return s.userRepo.Unfollow(ctx, followerID, followingID)
}

// Presence returns the directory presence of userID, upgraded to online when the user
// holds a connection on this instance.
func (s *UserService) Presence(ctx context.Context, userID uint) (*models.Presence, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := &models.Presence{UserID: user.ID, IsOnline: user.IsOnline, LastSeenAt: user.LastSeenAt}
	if s.presence != nil && s.presence.IsOnline(userID) {
		p.IsOnline = true
	}
	return p, nil
}
