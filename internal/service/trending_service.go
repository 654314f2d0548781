package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"campuspulse/internal/cache"
	"campuspulse/internal/models"
	"campuspulse/internal/repository"
	"campuspulse/internal/trending"
)

const (
	defaultTrendingLimit = 10
	maxTrendingLimit     = 50
)

// TrendingQuery is the input of a ranked read.
type TrendingQuery struct {
	Limit     int
	Category  string
	Timeframe string
}

// TrendingService serves cached ranked reads and keeps decayed scores fresh.
type TrendingService struct {
	posts  repository.PostRepository
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewTrendingService returns a TrendingService caching reads for ttl.
func NewTrendingService(posts repository.PostRepository, ttl time.Duration, logger *slog.Logger) *TrendingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrendingService{posts: posts, ttl: ttl, now: time.Now, logger: logger}
}

func (s *TrendingService) rankQuery(q TrendingQuery) (repository.RankQuery, trending.Timeframe, error) {
	tf, ok := trending.ParseTimeframe(q.Timeframe)
	if !ok {
		return repository.RankQuery{}, "", models.NewInvalidInputError("timeframe must be one of day, week, month, all")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultTrendingLimit
	}
	if limit > maxTrendingLimit {
		limit = maxTrendingLimit
	}
	return repository.RankQuery{
		Limit:    limit,
		Category: strings.TrimSpace(q.Category),
		Since:    tf.Since(s.now()),
	}, tf, nil
}

func (s *TrendingService) cached(ctx context.Context, kind string, q TrendingQuery, dest any, fetch func(repository.RankQuery) error) error {
	rq, tf, err := s.rankQuery(q)
	if err != nil {
		return err
	}
	if s.ttl <= 0 {
		return fetch(rq)
	}
	key := cache.TrendingKey(ctx, kind, rq.Category, string(tf), rq.Limit)
	return cache.Aside(ctx, key, dest, s.ttl, func() error { return fetch(rq) })
}

// TopPosts ranks posts by trending score.
func (s *TrendingService) TopPosts(ctx context.Context, q TrendingQuery) ([]*models.Post, error) {
	posts := []*models.Post{}
	err := s.cached(ctx, "posts", q, &posts, func(rq repository.RankQuery) error {
		res, err := s.posts.TopPosts(ctx, rq)
		posts = append(posts[:0], res...)
		return err
	})
	return posts, err
}

// TopCategories ranks categories by aggregate engagement. Category filters are ignored.
func (s *TrendingService) TopCategories(ctx context.Context, q TrendingQuery) ([]models.GroupRank, error) {
	q.Category = ""
	ranks := []models.GroupRank{}
	err := s.cached(ctx, "categories", q, &ranks, func(rq repository.RankQuery) error {
		res, err := s.posts.TopCategories(ctx, rq)
		ranks = append(ranks[:0], res...)
		return err
	})
	return ranks, err
}

// TopSections ranks sections, optionally within one category.
func (s *TrendingService) TopSections(ctx context.Context, q TrendingQuery) ([]models.GroupRank, error) {
	ranks := []models.GroupRank{}
	err := s.cached(ctx, "sections", q, &ranks, func(rq repository.RankQuery) error {
		res, err := s.posts.TopSections(ctx, rq)
		ranks = append(ranks[:0], res...)
		return err
	})
	return ranks, err
}

// TopProfiles ranks authors by the summed score of their posts.
func (s *TrendingService) TopProfiles(ctx context.Context, q TrendingQuery) ([]models.ProfileRank, error) {
	q.Category = ""
	ranks := []models.ProfileRank{}
	err := s.cached(ctx, "profiles", q, &ranks, func(rq repository.RankQuery) error {
		res, err := s.posts.TopProfiles(ctx, rq)
		ranks = append(ranks[:0], res...)
		return err
	})
	return ranks, err
}

// RefreshDecay re-applies recency decay to posts still inside the decay window,
// widened by slack so a post crossing the boundary between runs gets its floor score.
func (s *TrendingService) RefreshDecay(ctx context.Context, slack time.Duration) (int64, error) {
	n, err := s.posts.RefreshScores(ctx, s.now().Add(-trending.DecayWindow-slack))
	if err != nil {
		return n, err
	}
	if n > 0 {
		cache.BumpTrendingVersion(ctx)
	}
	return n, nil
}

// RunDecay calls RefreshDecay every interval until ctx is done.
func (s *TrendingService) RunDecay(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.RefreshDecay(ctx, interval)
			if err != nil {
				s.logger.WarnContext(ctx, "trending decay refresh failed", slog.String("error", err.Error()))
				continue
			}
			s.logger.DebugContext(ctx, "trending decay refreshed", slog.Int64("posts", n))
		}
	}
}
