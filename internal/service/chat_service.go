// Package service holds the application logic between transport and storage.
package service

import (
	"context"
	"time"

	"campuspulse/internal/models"
	"campuspulse/internal/repository"
)

// ChatService owns two-party chats and their message logs.
type ChatService struct {
	chatRepo repository.ChatRepository
	userRepo repository.UserRepository
	now      func() time.Time
}

// AppendMessageInput is the input for appending a message to a chat.
type AppendMessageInput struct {
	ChatID   uint
	SenderID uint
	Content  string
	Type     models.MessageType
	Media    *models.Media
}

// NewChatService returns a new ChatService.
func NewChatService(chatRepo repository.ChatRepository, userRepo repository.UserRepository) *ChatService {
	return &ChatService{chatRepo: chatRepo, userRepo: userRepo, now: time.Now}
}

// FindOrCreate returns the chat between userID and otherID, creating it on first contact.
func (s *ChatService) FindOrCreate(ctx context.Context, userID, otherID uint) (*models.Chat, bool, error) {
	if userID == otherID {
		return nil, false, models.NewConflictError("a chat needs two distinct participants")
	}
	if _, err := s.userRepo.GetByID(ctx, otherID); err != nil {
		return nil, false, err
	}
	return s.chatRepo.FindOrCreate(ctx, userID, otherID)
}

// Get returns a chat the user participates in.
func (s *ChatService) Get(ctx context.Context, chatID, userID uint) (*models.Chat, error) {
	chat, err := s.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(userID) {
		return nil, models.NewForbiddenError("not a participant of this chat")
	}
	return chat, nil
}

// List returns the user's active chats, most recent activity first.
func (s *ChatService) List(ctx context.Context, userID uint, limit, offset int) ([]*models.Chat, error) {
	return s.chatRepo.ListForUser(ctx, userID, limit, offset)
}

// AppendMessage validates and stores a message, returning it with the updated chat.
func (s *ChatService) AppendMessage(ctx context.Context, in AppendMessageInput) (*models.Message, *models.Chat, error) {
	typ, err := models.ValidateMessage(in.Content, in.Type, in.Media)
	if err != nil {
		return nil, nil, err
	}
	media := in.Media
	if typ == models.MessageTypeText {
		media = nil
	}

	msg := &models.Message{
		ChatID:   in.ChatID,
		SenderID: in.SenderID,
		Content:  in.Content,
		Type:     typ,
		Media:    media,
	}
	chat, err := s.chatRepo.AppendMessage(ctx, msg)
	if err != nil {
		return nil, nil, err
	}
	return msg, chat, nil
}

// Messages returns a chronological page of a chat's messages, newest page first.
func (s *ChatService) Messages(ctx context.Context, chatID, userID uint, limit, offset int) ([]*models.Message, error) {
	if _, err := s.Get(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return s.chatRepo.ListMessages(ctx, chatID, limit, offset)
}

// MarkRead marks every unread message from the other participant as read.
func (s *ChatService) MarkRead(ctx context.Context, chatID, readerID uint) (int64, error) {
	return s.chatRepo.MarkRead(ctx, chatID, readerID, s.now())
}

// SoftDelete hides a chat for both participants; history is kept.
func (s *ChatService) SoftDelete(ctx context.Context, chatID, requesterID uint) error {
	return s.chatRepo.SoftDelete(ctx, chatID, requesterID)
}

// RemoveMessage deletes a message authored by the requester.
func (s *ChatService) RemoveMessage(ctx context.Context, chatID, messageID, requesterID uint) (*models.Chat, error) {
	return s.chatRepo.RemoveMessage(ctx, chatID, messageID, requesterID)
}

// UnreadCount returns the number of unread messages addressed to userID across active chats.
func (s *ChatService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	return s.chatRepo.UnreadCount(ctx, userID)
}
