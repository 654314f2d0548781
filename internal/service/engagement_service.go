package service

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"campuspulse/internal/cache"
	"campuspulse/internal/featureflags"
	"campuspulse/internal/models"
	"campuspulse/internal/observability"
	"campuspulse/internal/repository"
	"campuspulse/internal/stream"

	"go.opentelemetry.io/otel/attribute"
)

// MaxCommentLen bounds comment content in runes.
const MaxCommentLen = 2000

const publishTimeout = 5 * time.Second

var mentionPattern = regexp.MustCompile(`(?:^|[^\w@])@(\w{3,64})`)

// EngagementService applies likes, comments and shares. The trending score is recomputed
// inside each mutation; notifications and the event stream follow as best-effort steps.
type EngagementService struct {
	posts     repository.PostRepository
	users     repository.UserRepository
	notes     *NotificationService
	publisher stream.Publisher
	flags     *featureflags.Manager
	logger    *slog.Logger
	now       func() time.Time

	inflight sync.WaitGroup
}

// NewEngagementService returns a new EngagementService. publisher may be nil.
func NewEngagementService(
	posts repository.PostRepository,
	users repository.UserRepository,
	notes *NotificationService,
	publisher stream.Publisher,
	flags *featureflags.Manager,
	logger *slog.Logger,
) *EngagementService {
	if publisher == nil {
		publisher = stream.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EngagementService{
		posts:     posts,
		users:     users,
		notes:     notes,
		publisher: publisher,
		flags:     flags,
		logger:    logger,
		now:       time.Now,
	}
}

// ToggleLike likes the post, or removes the like when already present.
func (s *EngagementService) ToggleLike(ctx context.Context, postID, userID uint) (*models.EngagementResult, error) {
	post, liked, err := s.posts.ToggleLike(ctx, postID, userID)
	if err != nil {
		return nil, err
	}

	kind := stream.KindUnlike
	if liked {
		kind = stream.KindLike
		s.notes.Notify(ctx, CreateNotificationInput{
			SenderID:   userID,
			ReceiverID: post.AuthorID,
			Type:       models.NotificationLike,
			Target:     models.PostTarget{PostID: post.ID},
		})
	}
	s.afterMutation(ctx, kind, post, userID)
	return &models.EngagementResult{Post: post, Liked: &liked}, nil
}

// AddComment stores a comment, notifying the post author and every mentioned user.
func (s *EngagementService) AddComment(ctx context.Context, postID, userID uint, content string) (*models.EngagementResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, models.NewInvalidInputError("comment content is required")
	}
	if utf8.RuneCountInString(content) > MaxCommentLen {
		return nil, models.NewInvalidInputError("comment content exceeds 2000 characters")
	}

	comment := &models.PostComment{PostID: postID, AuthorID: userID, Content: content}
	post, err := s.posts.AddComment(ctx, comment)
	if err != nil {
		return nil, err
	}

	s.notes.Notify(ctx, CreateNotificationInput{
		SenderID:   userID,
		ReceiverID: post.AuthorID,
		Type:       models.NotificationComment,
		Target:     models.PostTarget{PostID: post.ID},
		Metadata:   map[string]any{"comment_id": comment.ID},
	})
	s.notifyMentions(ctx, post, comment)
	s.afterMutation(ctx, stream.KindComment, post, userID)
	return &models.EngagementResult{Post: post, Comment: comment}, nil
}

// RemoveComment deletes a comment. Only its author or the post author may do so.
func (s *EngagementService) RemoveComment(ctx context.Context, postID, commentID, userID uint) (*models.EngagementResult, error) {
	post, err := s.posts.RemoveComment(ctx, postID, commentID, userID)
	if err != nil {
		return nil, err
	}
	s.afterMutation(ctx, stream.KindUncomment, post, userID)
	return &models.EngagementResult{Post: post}, nil
}

// Share records a share. Sharing the same post again is allowed.
func (s *EngagementService) Share(ctx context.Context, postID, userID uint) (*models.EngagementResult, error) {
	share := &models.PostShare{PostID: postID, UserID: userID}
	post, err := s.posts.AddShare(ctx, share)
	if err != nil {
		return nil, err
	}

	s.notes.Notify(ctx, CreateNotificationInput{
		SenderID:   userID,
		ReceiverID: post.AuthorID,
		Type:       models.NotificationShare,
		Target:     models.PostTarget{PostID: post.ID},
	})
	s.afterMutation(ctx, stream.KindShare, post, userID)
	return &models.EngagementResult{Post: post, Share: share}, nil
}

// Wait blocks until in-flight stream publishes finish.
func (s *EngagementService) Wait() {
	s.inflight.Wait()
}

func (s *EngagementService) notifyMentions(ctx context.Context, post *models.Post, comment *models.PostComment) {
	names := Mentions(comment.Content)
	if len(names) == 0 {
		return
	}
	users, err := s.users.GetByUsernames(ctx, names)
	if err != nil {
		s.logger.WarnContext(ctx, "mention lookup failed", slog.String("error", err.Error()))
		return
	}
	for _, u := range users {
		s.notes.Notify(ctx, CreateNotificationInput{
			SenderID:   comment.AuthorID,
			ReceiverID: u.ID,
			Type:       models.NotificationMention,
			Target:     models.PostTarget{PostID: post.ID},
			Metadata:   map[string]any{"comment_id": comment.ID},
		})
	}
}

func (s *EngagementService) afterMutation(ctx context.Context, kind string, post *models.Post, userID uint) {
	cache.BumpTrendingVersion(ctx)

	if !s.flags.Enabled(featureflags.EngagementStream, userID) {
		return
	}
	ev := stream.EngagementEvent{
		Kind:          kind,
		PostID:        post.ID,
		UserID:        userID,
		Category:      post.Category,
		LikesCount:    post.LikesCount,
		CommentsCount: post.CommentsCount,
		SharesCount:   post.SharesCount,
		TrendingScore: post.TrendingScore,
		OccurredAt:    s.now().UTC(),
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		pctx, span := observability.StartSpan(pctx, "engagement.publish",
			attribute.String("engagement.kind", kind),
			attribute.Int64("post.id", int64(post.ID)),
		)
		err := s.publisher.Publish(pctx, ev)
		observability.EndSpan(span, err)
		if err != nil {
			s.logger.WarnContext(pctx, "engagement event not published",
				slog.String("kind", kind),
				slog.Uint64("post_id", uint64(post.ID)),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Mentions returns the distinct @usernames in content, lowercased, in order of appearance.
func Mentions(content string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range mentionPattern.FindAllStringSubmatch(content, -1) {
		name := strings.ToLower(m[1])
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
