package models

import "time"

// User is the directory entry for an identity. Presence columns are written only by the presence registry.
type User struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Username   string     `gorm:"size:64;uniqueIndex;not null" json:"username"`
	IsOnline   bool       `gorm:"not null;default:false" json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Follow is a directed follower edge.
type Follow struct {
	FollowerID  uint      `gorm:"primaryKey" json:"follower_id"`
	FollowingID uint      `gorm:"primaryKey;index" json:"following_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Presence is the read model served by the presence endpoint.
type Presence struct {
	UserID     uint       `json:"user_id"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}
