package repository

import (
	"context"
	"errors"
	"time"

	"campuspulse/internal/models"
	"campuspulse/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatRepository persists the two-party chat aggregate. Every mutation of a chat runs
// as one transaction holding the chat row lock, so the message log, the sequence
// counter and the last-message copy never diverge across server instances.
type ChatRepository interface {
	FindOrCreate(ctx context.Context, a, b uint) (*models.Chat, bool, error)
	GetByID(ctx context.Context, id uint) (*models.Chat, error)
	ListForUser(ctx context.Context, userID uint, limit, offset int) ([]*models.Chat, error)
	AppendMessage(ctx context.Context, msg *models.Message) (*models.Chat, error)
	ListMessages(ctx context.Context, chatID uint, limit, offset int) ([]*models.Message, error)
	MarkRead(ctx context.Context, chatID, readerID uint, at time.Time) (int64, error)
	SoftDelete(ctx context.Context, chatID, requesterID uint) error
	RemoveMessage(ctx context.Context, chatID, messageID, requesterID uint) (*models.Chat, error)
	UnreadCount(ctx context.Context, userID uint) (int64, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository creates a new chat repository
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) FindOrCreate(ctx context.Context, a, b uint) (*models.Chat, bool, error) {
	defer observability.TrackQuery("find_or_create", "chats")()

	chat, err := models.NewChat(a, b)
	if err != nil {
		return nil, false, err
	}

	db := r.db.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_low_id"}, {Name: "user_high_id"}},
		DoNothing: true,
	}).Create(chat)
	if res.Error != nil {
		return nil, false, mapError(res.Error, "chat", nil)
	}
	created := res.RowsAffected == 1

	var existing models.Chat
	if err := db.Where("user_low_id = ? AND user_high_id = ?", chat.UserLowID, chat.UserHighID).
		First(&existing).Error; err != nil {
		return nil, false, mapError(err, "chat", nil)
	}

	if !existing.IsActive {
		if err := db.Model(&existing).Update("is_active", true).Error; err != nil {
			return nil, false, mapError(err, "chat", existing.ID)
		}
		existing.IsActive = true
	}
	return &existing, created, nil
}

func (r *chatRepository) GetByID(ctx context.Context, id uint) (*models.Chat, error) {
	var chat models.Chat
	if err := r.db.WithContext(ctx).First(&chat, id).Error; err != nil {
		return nil, mapError(err, "chat", id)
	}
	return &chat, nil
}

func (r *chatRepository) ListForUser(ctx context.Context, userID uint, limit, offset int) ([]*models.Chat, error) {
	db := r.db.WithContext(ctx)

	var chats []*models.Chat
	err := db.Where("(user_low_id = ? OR user_high_id = ?) AND is_active = ?", userID, userID, true).
		Order("COALESCE(last_message_sent_at, created_at) DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&chats).Error
	if err != nil {
		return nil, mapError(err, "chat", nil)
	}
	if len(chats) == 0 {
		return chats, nil
	}

	ids := make([]uint, len(chats))
	for i, c := range chats {
		ids[i] = c.ID
	}

	var rows []struct {
		ChatID uint
		Unread int64
	}
	err = db.Model(&models.Message{}).
		Select("chat_id, COUNT(*) AS unread").
		Where("chat_id IN ? AND sender_id <> ? AND is_read = ?", ids, userID, false).
		Group("chat_id").
		Scan(&rows).Error
	if err != nil {
		return nil, mapError(err, "message", nil)
	}

	unread := make(map[uint]int64, len(rows))
	for _, row := range rows {
		unread[row.ChatID] = row.Unread
	}
	for _, c := range chats {
		c.UnreadCount = unread[c.ID]
	}
	return chats, nil
}

func (r *chatRepository) AppendMessage(ctx context.Context, msg *models.Message) (*models.Chat, error) {
	defer observability.TrackQuery("append_message", "messages")()

	var chat models.Chat
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&chat, msg.ChatID).Error; err != nil {
			return mapError(err, "chat", msg.ChatID)
		}
		if !chat.HasParticipant(msg.SenderID) {
			return models.NewForbiddenError("sender is not a participant of this chat")
		}

		msg.Seq = chat.MessageSeq + 1
		msg.IsRead = false
		msg.ReadAt = nil
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		chat.MessageSeq = msg.Seq
		chat.IsActive = true
		chat.LastMessage = lastMessageOf(msg)
		return tx.Model(&chat).Updates(map[string]interface{}{
			"message_seq":             chat.MessageSeq,
			"is_active":               true,
			"last_message_message_id": chat.LastMessage.MessageID,
			"last_message_content":    chat.LastMessage.Content,
			"last_message_sender_id":  chat.LastMessage.SenderID,
			"last_message_sent_at":    chat.LastMessage.SentAt,
		}).Error
	})
	if err != nil {
		return nil, mapError(err, "chat", msg.ChatID)
	}
	return &chat, nil
}

func lastMessageOf(msg *models.Message) models.LastMessage {
	if msg == nil {
		return models.LastMessage{}
	}
	id, sender, sentAt := msg.ID, msg.SenderID, msg.CreatedAt
	return models.LastMessage{
		MessageID: &id,
		Content:   msg.Content,
		SenderID:  &sender,
		SentAt:    &sentAt,
	}
}

func (r *chatRepository) ListMessages(ctx context.Context, chatID uint, limit, offset int) ([]*models.Message, error) {
	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("seq DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, mapError(err, "message", nil)
	}

	// newest page first, returned oldest -> newest
	reverse(messages)
	return messages, nil
}

func (r *chatRepository) MarkRead(ctx context.Context, chatID, readerID uint, at time.Time) (int64, error) {
	chat, err := r.GetByID(ctx, chatID)
	if err != nil {
		return 0, err
	}
	if !chat.HasParticipant(readerID) {
		return 0, models.NewForbiddenError("not a participant of this chat")
	}

	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("chat_id = ? AND sender_id <> ? AND is_read = ?", chatID, readerID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	if res.Error != nil {
		return 0, mapError(res.Error, "message", nil)
	}
	return res.RowsAffected, nil
}

func (r *chatRepository) SoftDelete(ctx context.Context, chatID, requesterID uint) error {
	chat, err := r.GetByID(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(requesterID) {
		return models.NewForbiddenError("not a participant of this chat")
	}
	err = r.db.WithContext(ctx).Model(chat).Update("is_active", false).Error
	return mapError(err, "chat", chatID)
}

func (r *chatRepository) RemoveMessage(ctx context.Context, chatID, messageID, requesterID uint) (*models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&chat, chatID).Error; err != nil {
			return mapError(err, "chat", chatID)
		}

		var msg models.Message
		if err := tx.Where("id = ? AND chat_id = ?", messageID, chatID).First(&msg).Error; err != nil {
			return mapError(err, "message", messageID)
		}
		if msg.SenderID != requesterID {
			return models.NewForbiddenError("only the author can remove a message")
		}
		if err := tx.Delete(&msg).Error; err != nil {
			return err
		}

		if chat.LastMessage.MessageID == nil || *chat.LastMessage.MessageID != msg.ID {
			return nil
		}

		var tail models.Message
		err := tx.Where("chat_id = ?", chatID).Order("seq DESC").Take(&tail).Error
		switch {
		case err == nil:
			chat.LastMessage = lastMessageOf(&tail)
		case errors.Is(err, gorm.ErrRecordNotFound):
			chat.LastMessage = models.LastMessage{}
		default:
			return err
		}
		return tx.Model(&chat).Updates(map[string]interface{}{
			"last_message_message_id": chat.LastMessage.MessageID,
			"last_message_content":    chat.LastMessage.Content,
			"last_message_sender_id":  chat.LastMessage.SenderID,
			"last_message_sent_at":    chat.LastMessage.SentAt,
		}).Error
	})
	if err != nil {
		return nil, mapError(err, "chat", chatID)
	}
	return &chat, nil
}

func (r *chatRepository) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Joins("JOIN chats ON chats.id = messages.chat_id").
		Where("(chats.user_low_id = ? OR chats.user_high_id = ?) AND chats.is_active = ?", userID, userID, true).
		Where("messages.sender_id <> ? AND messages.is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, mapError(err, "message", nil)
	}
	return count, nil
}
