package service

import (
	"context"
	"log/slog"

	"campuspulse/internal/models"
	"campuspulse/internal/notifications"
	"campuspulse/internal/observability"
)

// MessageRouter turns client actions into stored messages, room broadcasts and
// notifications. It also owns the connection lifecycle.
type MessageRouter struct {
	chats      *ChatService
	notes      *NotificationService
	dispatcher *notifications.Dispatcher
	logger     *slog.Logger
	wsLog      *observability.WSLogger
}

// SendInput is the input for sending a chat message.
type SendInput struct {
	ChatID   uint
	SenderID uint
	Content  string
	Type     models.MessageType
	Media    *models.Media
}

// NewMessageRouter returns a new MessageRouter.
func NewMessageRouter(chats *ChatService, notes *NotificationService, dispatcher *notifications.Dispatcher, logger *slog.Logger) *MessageRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageRouter{
		chats:      chats,
		notes:      notes,
		dispatcher: dispatcher,
		logger:     logger,
		wsLog:      observability.NewWSLogger("chat", logger),
	}
}

// Name identifies the router as the hub of its clients.
func (r *MessageRouter) Name() string { return "chat" }

// UnregisterClient runs the disconnect path when a client's read pump ends.
func (r *MessageRouter) UnregisterClient(c *notifications.Client) {
	r.Disconnect(context.Background(), c)
}

// Connect registers a new connection. A previous connection of the same identity is
// told it was superseded and stays open for room traffic.
func (r *MessageRouter) Connect(ctx context.Context, c *notifications.Client) {
	r.dispatcher.Hub().Attach(c)
	if prev := r.dispatcher.Registry().Register(ctx, c); prev != nil {
		r.wsLog.LogLifecycle(ctx, "session_superseded",
			slog.Uint64("user_id", uint64(c.UserID)),
			slog.String("superseded_conn_id", prev.ID),
		)
	}
	r.wsLog.LogConnect(ctx, c.UserID, c.ID)
}

// Disconnect leaves every room, unregisters the connection and announces the user
// offline when it was their active connection.
func (r *MessageRouter) Disconnect(ctx context.Context, c *notifications.Client) {
	r.dispatcher.Hub().Detach(c)

	wentOffline := r.dispatcher.Registry().Unregister(ctx, c)
	if wentOffline {
		ev, err := notifications.NewEvent(notifications.EventUserOffline, 0, notifications.UserOfflinePayload{
			UserID:   c.UserID,
			Username: c.Username,
		})
		if err == nil {
			if err := r.dispatcher.All(ctx, ev); err != nil {
				r.wsLog.LogError(ctx, c.UserID, 0, err, notifications.EventUserOffline)
			}
		}
	}
	r.wsLog.LogDisconnect(ctx, c.UserID, c.ID, wentOffline)
}

// Send appends a message and delivers it. Append failures are returned unchanged and
// have no side effects; delivery and notification failures are logged only.
func (r *MessageRouter) Send(ctx context.Context, in SendInput) (_ *models.Message, err error) {
	ctx, span := observability.StartSpan(ctx, "chat.send", observability.ChatAttrs(in.ChatID, in.SenderID)...)
	defer func() { observability.EndSpan(span, err) }()

	msg, chat, err := r.chats.AppendMessage(ctx, AppendMessageInput(in))
	if err != nil {
		return nil, err
	}
	observability.MessagesSent.WithLabelValues(string(msg.Type)).Inc()

	ev, err := notifications.NewEvent(notifications.EventNewMessage, msg.ChatID, msg)
	if err == nil {
		ev.Seq = msg.Seq
		if err := r.dispatcher.Room(ctx, msg.ChatID, msg.Seq, 0, ev); err != nil {
			r.wsLog.LogError(ctx, msg.SenderID, msg.ChatID, err, notifications.EventNewMessage)
		}
	}

	if otherID, ok := chat.OtherParticipant(msg.SenderID); ok {
		r.notes.Notify(ctx, CreateNotificationInput{
			SenderID:   msg.SenderID,
			ReceiverID: otherID,
			Type:       models.NotificationChat,
			Target:     models.ChatTarget{ChatID: msg.ChatID},
			Metadata:   map[string]any{"message_id": msg.ID, "preview": preview(msg.Content)},
		})
	}
	return msg, nil
}

// Join adds the connection to a chat room after checking participation.
func (r *MessageRouter) Join(ctx context.Context, chatID uint, c *notifications.Client) error {
	ctx, span := observability.StartSpan(ctx, "chat.join", observability.ChatAttrs(chatID, c.UserID)...)
	chat, err := r.chats.Get(ctx, chatID, c.UserID)
	observability.EndSpan(span, err)
	if err != nil {
		return err
	}
	hub := r.dispatcher.Hub()
	hub.Join(chatID, c, chat.MessageSeq)
	// a message appended before the join took effect has already been broadcast
	if latest, err := r.chats.Get(ctx, chatID, c.UserID); err == nil {
		hub.Advance(chatID, latest.MessageSeq)
	}
	ev, _ := notifications.NewEvent(notifications.EventJoinedChat, chatID, map[string]uint{"chat_id": chatID})
	c.SendEvent(ev)
	return nil
}

// Leave removes the connection from a chat room.
func (r *MessageRouter) Leave(_ context.Context, chatID uint, c *notifications.Client) {
	r.dispatcher.Hub().Leave(chatID, c)
	ev, _ := notifications.NewEvent(notifications.EventLeftChat, chatID, map[string]uint{"chat_id": chatID})
	c.SendEvent(ev)
}

// Typing broadcasts a typing state change to the room, excluding the typist. Repeated
// states are dropped. The connection must have joined the room.
func (r *MessageRouter) Typing(ctx context.Context, chatID uint, c *notifications.Client, isTyping bool) error {
	if !r.dispatcher.Hub().IsJoined(chatID, c) {
		return models.NewForbiddenError("join the chat before sending typing updates")
	}
	if !r.dispatcher.Hub().SetTyping(chatID, c.UserID, isTyping) {
		return nil
	}
	ev, err := notifications.NewEvent(notifications.EventUserTyping, chatID, notifications.TypingPayload{
		UserID:   c.UserID,
		Username: c.Username,
		IsTyping: isTyping,
	})
	if err != nil {
		return err
	}
	return r.dispatcher.Room(ctx, chatID, 0, c.UserID, ev)
}

func preview(content string) string {
	const previewLen = 80
	runes := []rune(content)
	if len(runes) <= previewLen {
		return content
	}
	return string(runes[:previewLen]) + "…"
}
