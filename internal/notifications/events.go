// Package notifications owns live delivery: the presence registry, chat rooms,
// personal channels and the Redis pub/sub fan-out between instances.
package notifications

import "encoding/json"

// Client to server event types.
const (
	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
	EventSendMessage = "send_message"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
)

// Server to client event types.
const (
	EventJoinedChat        = "joined_chat"
	EventLeftChat          = "left_chat"
	EventNewMessage        = "new_message"
	EventUserTyping        = "user_typing"
	EventNewNotification   = "new_notification"
	EventUserOffline       = "user_offline"
	EventSessionSuperseded = "session_superseded"
	EventMessagesDropped   = "messages_dropped"
	EventError             = "error"
)

// Event is the websocket envelope in both directions.
type Event struct {
	Type    string          `json:"type"`
	ChatID  uint            `json:"chat_id,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an Event with payload marshalled to JSON.
func NewEvent(eventType string, chatID uint, payload any) (Event, error) {
	ev := Event{Type: eventType, ChatID: chatID}
	if payload == nil {
		return ev, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ev, err
	}
	ev.Payload = raw
	return ev, nil
}

// Encode returns the wire form of ev.
func (ev Event) Encode() []byte {
	b, err := json.Marshal(ev)
	if err != nil {
		// RawMessage payloads are already valid JSON
		return []byte(`{"type":"error"}`)
	}
	return b
}

// ErrorEvent is sent to the originating connection only.
func ErrorEvent(chatID uint, message string) Event {
	ev, _ := NewEvent(EventError, chatID, map[string]string{"message": message})
	return ev
}

// TypingPayload is the body of user_typing.
type TypingPayload struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// UserOfflinePayload is the body of user_offline.
type UserOfflinePayload struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
}
