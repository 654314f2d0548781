package models

import (
	"encoding/json"
	"time"
)

// NotificationType names the action that produced a notification.
type NotificationType string

const (
	NotificationNewFollower NotificationType = "new_follower"
	NotificationNewPost     NotificationType = "new_post"
	NotificationLike        NotificationType = "like"
	NotificationComment     NotificationType = "comment"
	NotificationMention     NotificationType = "mention"
	NotificationShare       NotificationType = "share"
	NotificationChat        NotificationType = "chat"
)

type targetKind int

const (
	targetNone targetKind = iota
	targetPost
	targetChat
)

func (t NotificationType) target() (targetKind, bool) {
	switch t {
	case NotificationNewFollower:
		return targetNone, true
	case NotificationNewPost, NotificationLike, NotificationComment, NotificationMention, NotificationShare:
		return targetPost, true
	case NotificationChat:
		return targetChat, true
	}
	return targetNone, false
}

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	_, ok := t.target()
	return ok
}

// NotificationTarget is the resource a notification points at: PostTarget, ChatTarget or nil.
type NotificationTarget interface {
	kind() targetKind
}

// PostTarget points a notification at a post.
type PostTarget struct{ PostID uint }

// ChatTarget points a notification at a chat.
type ChatTarget struct{ ChatID uint }

func (PostTarget) kind() targetKind { return targetPost }
func (ChatTarget) kind() targetKind { return targetChat }

// Notification is an entry in a receiver's ledger. Only IsRead/ReadAt change after creation.
type Notification struct {
	ID         uint             `gorm:"primaryKey" json:"id"`
	SenderID   uint             `gorm:"not null;index" json:"sender_id"`
	ReceiverID uint             `gorm:"not null;index:idx_notifications_receiver_created,priority:1" json:"receiver_id"`
	Type       NotificationType `gorm:"size:32;not null" json:"type"`
	PostID     *uint            `gorm:"index" json:"post_id,omitempty"`
	ChatID     *uint            `json:"chat_id,omitempty"`
	IsRead     bool             `gorm:"not null;default:false" json:"is_read"`
	ReadAt     *time.Time       `json:"read_at,omitempty"`
	Metadata   json.RawMessage  `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt  time.Time        `gorm:"index:idx_notifications_receiver_created,priority:2" json:"created_at"`
}

// NewNotification validates that target carries exactly what typ requires and builds the row.
func NewNotification(senderID, receiverID uint, typ NotificationType, target NotificationTarget, metadata map[string]any) (*Notification, error) {
	want, ok := typ.target()
	if !ok {
		return nil, NewInvalidInputError("unknown notification type")
	}
	if senderID == 0 || receiverID == 0 {
		return nil, NewInvalidInputError("sender and receiver are required")
	}

	n := &Notification{SenderID: senderID, ReceiverID: receiverID, Type: typ}

	switch t := target.(type) {
	case nil:
		if want != targetNone {
			return nil, NewInvalidInputError(string(typ) + " notification requires a target")
		}
	case PostTarget:
		if want != targetPost || t.PostID == 0 {
			return nil, NewInvalidInputError(string(typ) + " notification requires a post id")
		}
		n.PostID = &t.PostID
	case ChatTarget:
		if want != targetChat || t.ChatID == 0 {
			return nil, NewInvalidInputError(string(typ) + " notification requires a chat id")
		}
		n.ChatID = &t.ChatID
	default:
		return nil, NewInvalidInputError("unsupported notification target")
	}

	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, NewInvalidInputError("metadata must be a JSON object")
		}
		n.Metadata = raw
	}
	return n, nil
}

// Target rebuilds the typed target from the stored columns.
func (n *Notification) Target() NotificationTarget {
	switch {
	case n.PostID != nil:
		return PostTarget{PostID: *n.PostID}
	case n.ChatID != nil:
		return ChatTarget{ChatID: *n.ChatID}
	}
	return nil
}
