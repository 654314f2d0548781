package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
)

// MaxMessageContentLen bounds message content, counted in runes.
const MaxMessageContentLen = 10000

// MessageType is the kind of chat message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// Media describes an attachment that was already uploaded to the blob store.
type Media struct {
	URL       string `json:"url"`
	StorageID string `json:"storage_id,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// LastMessage is the denormalized copy of a chat's newest message.
type LastMessage struct {
	MessageID *uint      `json:"message_id,omitempty"`
	Content   string     `json:"content"`
	SenderID  *uint      `json:"sender_id,omitempty"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// Chat is a two-party conversation. The pair is stored ordered (low, high) under a
// unique index so the unordered participant set maps to exactly one row.
type Chat struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	UserLowID   uint        `gorm:"not null;uniqueIndex:idx_chats_pair,priority:1" json:"-"`
	UserHighID  uint        `gorm:"not null;uniqueIndex:idx_chats_pair,priority:2;index" json:"-"`
	IsActive    bool        `gorm:"not null;default:true" json:"is_active"`
	LastMessage LastMessage `gorm:"embedded;embeddedPrefix:last_message_" json:"last_message"`
	// MessageSeq is the sequence number of the newest message ever appended.
	MessageSeq   uint64    `gorm:"not null;default:0" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Participants []uint    `gorm:"-" json:"participants"`
	UnreadCount  int64     `gorm:"-" json:"unread_count"`
}

// NewChat builds an active chat between two distinct identities.
func NewChat(a, b uint) (*Chat, error) {
	if a == 0 || b == 0 {
		return nil, NewInvalidInputError("participant ids are required")
	}
	if a == b {
		return nil, NewConflictError("a chat needs two distinct participants")
	}
	low, high := OrderedPair(a, b)
	c := &Chat{UserLowID: low, UserHighID: high, IsActive: true}
	c.Participants = []uint{low, high}
	return c, nil
}

// OrderedPair returns a and b in ascending order.
func OrderedPair(a, b uint) (uint, uint) {
	if a > b {
		return b, a
	}
	return a, b
}

// AfterFind fills the participant list from the stored pair.
func (c *Chat) AfterFind(*gorm.DB) error {
	c.Participants = []uint{c.UserLowID, c.UserHighID}
	return nil
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Chat) HasParticipant(userID uint) bool {
	return userID != 0 && (c.UserLowID == userID || c.UserHighID == userID)
}

// OtherParticipant returns the participant that is not userID.
func (c *Chat) OtherParticipant(userID uint) (uint, bool) {
	switch userID {
	case c.UserLowID:
		return c.UserHighID, true
	case c.UserHighID:
		return c.UserLowID, true
	}
	return 0, false
}

// Message belongs to exactly one chat. Seq is unique per chat and fixes append order.
type Message struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	ChatID    uint        `gorm:"not null;uniqueIndex:idx_messages_chat_seq,priority:1" json:"chat_id"`
	Seq       uint64      `gorm:"not null;uniqueIndex:idx_messages_chat_seq,priority:2" json:"seq"`
	SenderID  uint        `gorm:"not null;index" json:"sender_id"`
	Content   string      `gorm:"type:text;not null" json:"content"`
	Type      MessageType `gorm:"size:16;not null;default:'text'" json:"message_type"`
	Media     *Media      `gorm:"serializer:json;type:text" json:"media,omitempty"`
	IsRead    bool        `gorm:"not null;default:false" json:"is_read"`
	ReadAt    *time.Time  `json:"read_at,omitempty"`
	CreatedAt time.Time   `gorm:"index" json:"created_at"`
}

// ValidateMessage checks content, type and media of an outgoing message.
// An empty type is treated as text.
func ValidateMessage(content string, typ MessageType, media *Media) (MessageType, error) {
	if typ == "" {
		typ = MessageTypeText
	}
	if !typ.Valid() {
		return "", NewInvalidInputError("unknown message type")
	}
	if strings.TrimSpace(content) == "" {
		return "", NewInvalidInputError("message content is required")
	}
	if utf8.RuneCountInString(content) > MaxMessageContentLen {
		return "", NewInvalidInputError("message content exceeds 10000 characters")
	}
	if typ != MessageTypeText && (media == nil || strings.TrimSpace(media.URL) == "") {
		return "", NewInvalidInputError("media is required for non-text messages")
	}
	return typ, nil
}
