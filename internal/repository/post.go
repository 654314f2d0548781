package repository

import (
	"context"
	"sort"
	"time"

	"campuspulse/internal/models"
	"campuspulse/internal/observability"
	"campuspulse/internal/trending"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RankQuery filters ranked reads. Since is an inclusive lower bound on post creation.
type RankQuery struct {
	Limit    int
	Category string
	Since    *time.Time
}

// PostRepository persists posts and their engagement. Each engagement mutation locks the
// post row, recounts, recomputes the trending score and persists it in the same transaction.
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id uint) (*models.Post, error)
	ToggleLike(ctx context.Context, postID, userID uint) (*models.Post, bool, error)
	AddComment(ctx context.Context, comment *models.PostComment) (*models.Post, error)
	RemoveComment(ctx context.Context, postID, commentID, requesterID uint) (*models.Post, error)
	AddShare(ctx context.Context, share *models.PostShare) (*models.Post, error)
	RefreshScores(ctx context.Context, createdAfter time.Time) (int64, error)
	TopPosts(ctx context.Context, q RankQuery) ([]*models.Post, error)
	TopCategories(ctx context.Context, q RankQuery) ([]models.GroupRank, error)
	TopSections(ctx context.Context, q RankQuery) ([]models.GroupRank, error)
	TopProfiles(ctx context.Context, q RankQuery) ([]models.ProfileRank, error)
}

type postRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewPostRepository returns a PostRepository scoring against the wall clock.
func NewPostRepository(db *gorm.DB) PostRepository {
	return NewPostRepositoryWithClock(db, time.Now)
}

// NewPostRepositoryWithClock returns a PostRepository scoring against now.
func NewPostRepositoryWithClock(db *gorm.DB, now func() time.Time) PostRepository {
	return &postRepository{db: db, now: now}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	post.LikesCount, post.CommentsCount, post.SharesCount, post.TrendingScore = 0, 0, 0, 0
	return mapError(r.db.WithContext(ctx).Create(post).Error, "post", nil)
}

func (r *postRepository) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).First(&post, id).Error; err != nil {
		return nil, mapError(err, "post", id)
	}
	return &post, nil
}

// mutate runs fn against the locked post row and then rescores it.
func (r *postRepository) mutate(ctx context.Context, postID uint, trigger string, fn func(tx *gorm.DB, post *models.Post) error) (*models.Post, error) {
	defer observability.TrackQuery(trigger, "posts")()

	var post models.Post
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&post, postID).Error; err != nil {
			return mapError(err, "post", postID)
		}
		if err := fn(tx, &post); err != nil {
			return err
		}
		return r.rescore(tx, &post)
	})
	if err != nil {
		return nil, mapError(err, "post", postID)
	}
	observability.TrendingRecomputes.WithLabelValues(trigger).Inc()
	return &post, nil
}

func (r *postRepository) rescore(tx *gorm.DB, post *models.Post) error {
	if err := tx.Model(&models.PostLike{}).Where("post_id = ?", post.ID).Count(&post.LikesCount).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.PostComment{}).Where("post_id = ?", post.ID).Count(&post.CommentsCount).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.PostShare{}).Where("post_id = ?", post.ID).Count(&post.SharesCount).Error; err != nil {
		return err
	}
	post.TrendingScore = trending.Score(post.LikesCount, post.CommentsCount, post.SharesCount, post.CreatedAt, r.now())

	return tx.Model(post).Updates(map[string]interface{}{
		"likes_count":    post.LikesCount,
		"comments_count": post.CommentsCount,
		"shares_count":   post.SharesCount,
		"trending_score": post.TrendingScore,
	}).Error
}

func (r *postRepository) ToggleLike(ctx context.Context, postID, userID uint) (*models.Post, bool, error) {
	var liked bool
	post, err := r.mutate(ctx, postID, "like", func(tx *gorm.DB, _ *models.Post) error {
		res := tx.Where("post_id = ? AND user_id = ?", postID, userID).Delete(&models.PostLike{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		liked = true
		return tx.Create(&models.PostLike{PostID: postID, UserID: userID}).Error
	})
	if err != nil {
		return nil, false, err
	}
	return post, liked, nil
}

func (r *postRepository) AddComment(ctx context.Context, comment *models.PostComment) (*models.Post, error) {
	return r.mutate(ctx, comment.PostID, "comment", func(tx *gorm.DB, _ *models.Post) error {
		return tx.Create(comment).Error
	})
}

func (r *postRepository) RemoveComment(ctx context.Context, postID, commentID, requesterID uint) (*models.Post, error) {
	return r.mutate(ctx, postID, "comment", func(tx *gorm.DB, post *models.Post) error {
		var comment models.PostComment
		if err := tx.Where("id = ? AND post_id = ?", commentID, postID).First(&comment).Error; err != nil {
			return mapError(err, "comment", commentID)
		}
		if comment.AuthorID != requesterID && post.AuthorID != requesterID {
			return models.NewForbiddenError("only the comment author or the post author can remove a comment")
		}
		return tx.Delete(&comment).Error
	})
}

func (r *postRepository) AddShare(ctx context.Context, share *models.PostShare) (*models.Post, error) {
	return r.mutate(ctx, share.PostID, "share", func(tx *gorm.DB, _ *models.Post) error {
		return tx.Create(share).Error
	})
}

// RefreshScores re-applies decay to posts created after createdAfter. Older posts already
// sit on the recency floor and keep their stored score.
func (r *postRepository) RefreshScores(ctx context.Context, createdAfter time.Time) (int64, error) {
	var posts []*models.Post
	err := r.db.WithContext(ctx).
		Select("id", "likes_count", "comments_count", "shares_count", "created_at", "trending_score").
		Where("created_at >= ? AND (likes_count > 0 OR comments_count > 0 OR shares_count > 0)", createdAfter).
		Find(&posts).Error
	if err != nil {
		return 0, mapError(err, "post", nil)
	}

	now := r.now()
	var updated int64
	for _, p := range posts {
		score := trending.Score(p.LikesCount, p.CommentsCount, p.SharesCount, p.CreatedAt, now)
		if score == p.TrendingScore {
			continue
		}
		// counts are re-checked so a concurrent engagement write is never overwritten with stale numbers
		res := r.db.WithContext(ctx).Model(&models.Post{}).
			Where("id = ? AND likes_count = ? AND comments_count = ? AND shares_count = ?",
				p.ID, p.LikesCount, p.CommentsCount, p.SharesCount).
			Update("trending_score", score)
		if res.Error != nil {
			return updated, mapError(res.Error, "post", p.ID)
		}
		updated += res.RowsAffected
	}
	observability.TrendingRecomputes.WithLabelValues("decay").Add(float64(updated))
	return updated, nil
}

func (r *postRepository) filtered(ctx context.Context, q RankQuery) *gorm.DB {
	db := r.db.WithContext(ctx).Model(&models.Post{})
	if q.Category != "" {
		db = db.Where("posts.category = ?", q.Category)
	}
	if q.Since != nil {
		db = db.Where("posts.created_at >= ?", *q.Since)
	}
	return db
}

func (r *postRepository) TopPosts(ctx context.Context, q RankQuery) ([]*models.Post, error) {
	var posts []*models.Post
	err := r.filtered(ctx, q).
		Order("trending_score DESC").
		Order("created_at DESC").
		Order("id DESC").
		Limit(q.Limit).
		Find(&posts).Error
	if err != nil {
		return nil, mapError(err, "post", nil)
	}
	return posts, nil
}

type groupRow struct {
	Name     string
	Posts    int64
	Likes    int64
	Comments int64
	Shares   int64
	LatestID uint
}

func (r *postRepository) groupRanks(ctx context.Context, q RankQuery, column string, extra func(*gorm.DB) *gorm.DB) ([]models.GroupRank, error) {
	var rows []groupRow
	db := r.filtered(ctx, q).
		Select(column + " AS name, COUNT(*) AS posts, COALESCE(SUM(likes_count), 0) AS likes, " +
			"COALESCE(SUM(comments_count), 0) AS comments, COALESCE(SUM(shares_count), 0) AS shares, MAX(id) AS latest_id").
		Group(column)
	if extra != nil {
		db = extra(db)
	}
	if err := db.Scan(&rows).Error; err != nil {
		return nil, mapError(err, "post", nil)
	}

	// newest post breaks score ties, name keeps the order stable
	sort.SliceStable(rows, func(i, j int) bool {
		si := trending.AggregateScore(rows[i].Likes, rows[i].Comments, rows[i].Shares, rows[i].Posts)
		sj := trending.AggregateScore(rows[j].Likes, rows[j].Comments, rows[j].Shares, rows[j].Posts)
		if si != sj {
			return si > sj
		}
		if rows[i].LatestID != rows[j].LatestID {
			return rows[i].LatestID > rows[j].LatestID
		}
		return rows[i].Name < rows[j].Name
	})
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	out := make([]models.GroupRank, len(rows))
	for i, row := range rows {
		out[i] = models.GroupRank{
			Name:      row.Name,
			PostCount: row.Posts,
			Likes:     row.Likes,
			Comments:  row.Comments,
			Shares:    row.Shares,
			Score:     trending.AggregateScore(row.Likes, row.Comments, row.Shares, row.Posts),
		}
	}
	return out, nil
}

func (r *postRepository) TopCategories(ctx context.Context, q RankQuery) ([]models.GroupRank, error) {
	q.Category = ""
	return r.groupRanks(ctx, q, "category", nil)
}

func (r *postRepository) TopSections(ctx context.Context, q RankQuery) ([]models.GroupRank, error) {
	ranks, err := r.groupRanks(ctx, q, "section", func(db *gorm.DB) *gorm.DB {
		return db.Where("section <> ''")
	})
	if err != nil {
		return nil, err
	}
	for i := range ranks {
		ranks[i].Category = q.Category
	}
	return ranks, nil
}

func (r *postRepository) TopProfiles(ctx context.Context, q RankQuery) ([]models.ProfileRank, error) {
	q.Category = ""
	var out []models.ProfileRank
	err := r.filtered(ctx, q).
		Select("posts.author_id AS user_id, users.username AS username, COUNT(posts.id) AS post_count, " +
			"COALESCE(SUM(posts.trending_score), 0) AS score").
		Joins("JOIN users ON users.id = posts.author_id").
		Group("posts.author_id, users.username").
		Order("score DESC").
		Order("MAX(posts.id) DESC").
		Limit(q.Limit).
		Scan(&out).Error
	if err != nil {
		return nil, mapError(err, "post", nil)
	}
	return out, nil
}
