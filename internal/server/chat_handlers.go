package server

import (
	"campuspulse/internal/models"
	"campuspulse/internal/service"

	"github.com/gofiber/fiber/v2"
)

type createChatRequest struct {
	ParticipantID uint `json:"participant_id" validate:"required,gt=0"`
}

type mediaRequest struct {
	URL       string `json:"url" validate:"required,url"`
	StorageID string `json:"storage_id" validate:"max=255"`
	Filename  string `json:"filename" validate:"max=255"`
	Size      int64  `json:"size" validate:"gte=0"`
}

type sendMessageRequest struct {
	Content     string        `json:"content" validate:"required"`
	MessageType string        `json:"message_type" validate:"omitempty,oneof=text image file"`
	Media       *mediaRequest `json:"media"`
}

func (r *mediaRequest) toModel() *models.Media {
	if r == nil {
		return nil
	}
	return &models.Media{URL: r.URL, StorageID: r.StorageID, Filename: r.Filename, Size: r.Size}
}

// CreateChat handles POST /api/chats. It answers 201 for a new chat and 200 when
// the pair already had one.
func (s *Server) CreateChat(c *fiber.Ctx) error {
	ctx, userID := authUser(c)

	var req createChatRequest
	if err := bindJSON(c, &req); err != nil {
		return nil
	}

	chat, created, err := s.chatService.FindOrCreate(ctx, userID, req.ParticipantID)
	if err != nil {
		return respondError(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(chat)
}

// GetChats handles GET /api/chats
func (s *Server) GetChats(c *fiber.Ctx) error {
	ctx, userID := authUser(c)
	page := parsePagination(c, 20)

	chats, err := s.chatService.List(ctx, userID, page.Limit, page.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(chats)
}

// GetChatUnreadCount handles GET /api/chats/unread-count
func (s *Server) GetChatUnreadCount(c *fiber.Ctx) error {
	ctx, userID := authUser(c)

	count, err := s.chatService.UnreadCount(ctx, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"unread_count": count})
}

// GetMessages handles GET /api/chats/:id/messages
func (s *Server) GetMessages(c *fiber.Ctx) error {
	ctx, userID := authUser(c)
	chatID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	page := parsePagination(c, 50)

	messages, err := s.chatService.Messages(ctx, chatID, userID, page.Limit, page.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(messages)
}

// SendMessage handles POST /api/chats/:id/messages. The message is broadcast to the
// chat room exactly like a websocket send_message.
func (s *Server) SendMessage(c *fiber.Ctx) error {
	ctx, userID := authUser(c)
	chatID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	var req sendMessageRequest
	if err := bindJSON(c, &req); err != nil {
		return nil
	}

	msg, err := s.router.Send(ctx, service.SendInput{
		ChatID:   chatID,
		SenderID: userID,
		Content:  req.Content,
		Type:     models.MessageType(req.MessageType),
		Media:    req.Media.toModel(),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// MarkChatRead handles POST /api/chats/:id/read
func (s *Server) MarkChatRead(c *fiber.Ctx) error {
	ctx, userID := authUser(c)
	chatID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	marked, err := s.chatService.MarkRead(ctx, chatID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"marked": marked})
}

// RemoveMessage handles DELETE /api/chats/:id/messages/:messageId
func (s *Server) RemoveMessage(c *fiber.Ctx) error {
	ctx, userID := authUser(c)
	chatID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	messageID, err := parseID(c, "messageId")
	if err != nil {
		return nil
	}

	chat, err := s.chatService.RemoveMessage(ctx, chatID, messageID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(chat)
}

// DeleteChat handles DELETE /api/chats/:id
func (s *Server) DeleteChat(c *fiber.Ctx) error {
	ctx, userID := authUser(c)
	chatID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.chatService.SoftDelete(ctx, chatID, userID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
