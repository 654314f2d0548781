package models

import "time"

// Post is engagement-bearing content. The counters mirror the engagement tables and
// TrendingScore is derived from them whenever they change.
type Post struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	AuthorID      uint      `gorm:"not null;index" json:"author_id"`
	Category      string    `gorm:"size:64;not null;index" json:"category"`
	Section       string    `gorm:"size:64;index" json:"section"`
	Content       string    `gorm:"type:text;not null" json:"content"`
	LikesCount    int64     `gorm:"not null;default:0" json:"likes_count"`
	CommentsCount int64     `gorm:"not null;default:0" json:"comments_count"`
	SharesCount   int64     `gorm:"not null;default:0" json:"shares_count"`
	TrendingScore float64   `gorm:"not null;default:0;index" json:"trending_score"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PostLike records that a user likes a post; a user likes a post at most once.
type PostLike struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PostID    uint      `gorm:"not null;uniqueIndex:idx_post_likes_pair,priority:1" json:"post_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_post_likes_pair,priority:2" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PostComment is removable by its author or by the post author.
type PostComment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PostID    uint      `gorm:"not null;index" json:"post_id"`
	AuthorID  uint      `gorm:"not null;index" json:"author_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// PostShare may repeat for the same user.
type PostShare struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PostID    uint      `gorm:"not null;index" json:"post_id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// EngagementResult is returned by every engagement mutation.
type EngagementResult struct {
	Post    *Post        `json:"post"`
	Liked   *bool        `json:"liked,omitempty"`
	Comment *PostComment `json:"comment,omitempty"`
	Share   *PostShare   `json:"share,omitempty"`
}

// GroupRank is an aggregated ranking row for a category or section.
type GroupRank struct {
	Name      string  `json:"name"`
	Category  string  `json:"category,omitempty"`
	PostCount int64   `json:"post_count"`
	Likes     int64   `json:"likes"`
	Comments  int64   `json:"comments"`
	Shares    int64   `json:"shares"`
	Score     float64 `json:"score"`
}

// ProfileRank ranks authors by the summed trending score of their posts.
type ProfileRank struct {
	UserID    uint    `json:"user_id"`
	Username  string  `json:"username"`
	PostCount int64   `json:"post_count"`
	Score     float64 `json:"score"`
}
