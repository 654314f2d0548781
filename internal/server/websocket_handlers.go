package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"campuspulse/internal/featureflags"
	"campuspulse/internal/middleware"
	"campuspulse/internal/models"
	"campuspulse/internal/notifications"
	"campuspulse/internal/observability"
	"campuspulse/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"golang.org/x/time/rate"
)

const (
	// typing_start is throttled per connection; typing_stop always passes.
	typingInterval = 500 * time.Millisecond
	typingBurst    = 3
)

type sendMessagePayload struct {
	Content     string        `json:"content"`
	MessageType string        `json:"message_type"`
	Media       *models.Media `json:"media"`
}

// WebSocketChatHandler upgrades an authenticated request to the realtime chat and
// notification connection.
func (s *Server) WebSocketChatHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("userID").(uint)
		ctx := middleware.WithUserID(context.Background(), userID)

		user, err := s.userRepo.GetByID(ctx, userID)
		if err != nil {
			s.wsLogger.LogError(ctx, userID, 0, err, "connect")
			_ = conn.WriteMessage(websocket.TextMessage, notifications.ErrorEvent(0, clientMessage(err)).Encode())
			_ = conn.Close()
			return
		}

		client := notifications.NewClient(s.router, conn, user.ID, user.Username)
		typing := rate.NewLimiter(rate.Every(typingInterval), typingBurst)
		client.IncomingHandler = func(c *notifications.Client, message []byte) {
			s.handleChatEvent(ctx, c, message, typing)
		}

		s.router.Connect(ctx, client)

		go client.WritePump()
		client.ReadPump()
	})
}

// handleChatEvent dispatches one inbound frame. Failures are reported to the
// originating connection only.
func (s *Server) handleChatEvent(ctx context.Context, c *notifications.Client, message []byte, typing *rate.Limiter) {
	var ev notifications.Event
	if err := json.Unmarshal(message, &ev); err != nil {
		c.SendEvent(notifications.ErrorEvent(0, "invalid event format"))
		return
	}
	observability.WebSocketEventsTotal.WithLabelValues(ev.Type).Inc()

	err := s.dispatchChatEvent(ctx, c, ev, typing)
	if err != nil {
		s.wsLogger.LogError(ctx, c.UserID, ev.ChatID, err, ev.Type)
		c.SendEvent(notifications.ErrorEvent(ev.ChatID, clientMessage(err)))
	}
}

func (s *Server) dispatchChatEvent(ctx context.Context, c *notifications.Client, ev notifications.Event, typing *rate.Limiter) error {
	switch ev.Type {
	case notifications.EventJoinChat, notifications.EventLeaveChat, notifications.EventSendMessage,
		notifications.EventTypingStart, notifications.EventTypingStop:
		if ev.ChatID == 0 {
			return models.NewInvalidInputError("chat_id is required")
		}
	default:
		return models.NewInvalidInputError(fmt.Sprintf("unknown event type %q", ev.Type))
	}

	switch ev.Type {
	case notifications.EventJoinChat:
		return s.router.Join(ctx, ev.ChatID, c)

	case notifications.EventLeaveChat:
		s.router.Leave(ctx, ev.ChatID, c)
		return nil

	case notifications.EventSendMessage:
		var p sendMessagePayload
		if len(ev.Payload) == 0 || json.Unmarshal(ev.Payload, &p) != nil {
			return models.NewInvalidInputError("invalid send_message payload")
		}
		// a missing limiter store fails open
		d, err := middleware.CheckRateLimit(ctx, s.redis, middleware.SendChatLimit, fmt.Sprintf("user:%d", c.UserID))
		if err == nil && !d.Allowed {
			return models.NewRateLimitedError()
		}
		_, err = s.router.Send(ctx, service.SendInput{
			ChatID:   ev.ChatID,
			SenderID: c.UserID,
			Content:  p.Content,
			Type:     models.MessageType(p.MessageType),
			Media:    p.Media,
		})
		return err

	default:
		if !s.featureFlags.Enabled(featureflags.TypingIndicators, c.UserID) {
			return nil
		}
		isTyping := ev.Type == notifications.EventTypingStart
		if isTyping && !typing.Allow() {
			return nil
		}
		return s.router.Typing(ctx, ev.ChatID, c, isTyping)
	}
}

// clientMessage is the error text a client may see. Unclassified errors are not echoed.
func clientMessage(err error) string {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}
