package service

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"campuspulse/internal/models"
	"campuspulse/internal/repository"
)

// MaxPostContentLen bounds post content in runes.
const MaxPostContentLen = 5000

// PostService creates posts and fans new_post out to followers.
type PostService struct {
	postRepo repository.PostRepository
	userRepo repository.UserRepository
	notes    *NotificationService
	logger   *slog.Logger
}

// CreatePostInput is the input for creating a post.
type CreatePostInput struct {
	AuthorID uint
	Category string
	Section  string
	Content  string
}

// NewPostService returns a new PostService.
func NewPostService(postRepo repository.PostRepository, userRepo repository.UserRepository, notes *NotificationService, logger *slog.Logger) *PostService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostService{postRepo: postRepo, userRepo: userRepo, notes: notes, logger: logger}
}

// Create stores a post and notifies the author's followers.
func (s *PostService) Create(ctx context.Context, in CreatePostInput) (*models.Post, error) {
	content := strings.TrimSpace(in.Content)
	category := strings.ToLower(strings.TrimSpace(in.Category))
	switch {
	case content == "":
		return nil, models.NewInvalidInputError("post content is required")
	case utf8.RuneCountInString(content) > MaxPostContentLen:
		return nil, models.NewInvalidInputError("post content exceeds 5000 characters")
	case category == "":
		return nil, models.NewInvalidInputError("category is required")
	}

	post := &models.Post{
		AuthorID: in.AuthorID,
		Category: category,
		Section:  strings.ToLower(strings.TrimSpace(in.Section)),
		Content:  content,
	}
	if err := s.postRepo.Create(ctx, post); err != nil {
		return nil, err
	}

	followers, err := s.userRepo.FollowerIDs(ctx, in.AuthorID)
	if err != nil {
		s.logger.WarnContext(ctx, "follower lookup failed, new_post not sent",
			slog.Uint64("post_id", uint64(post.ID)),
			slog.String("error", err.Error()),
		)
		return post, nil
	}
	for _, followerID := range followers {
		s.notes.Notify(ctx, CreateNotificationInput{
			SenderID:   in.AuthorID,
			ReceiverID: followerID,
			Type:       models.NotificationNewPost,
			Target:     models.PostTarget{PostID: post.ID},
		})
	}
	return post, nil
}

// Get returns a post by id.
func (s *PostService) Get(ctx context.Context, id uint) (*models.Post, error) {
	return s.postRepo.GetByID(ctx, id)
}
