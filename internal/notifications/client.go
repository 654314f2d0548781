package notifications

import (
	"sync"
	"sync/atomic"
	"time"

	"campuspulse/internal/middleware"
	"campuspulse/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384

	sendBufferSize = 256
)

// DroppedPayload tells a client how many events it missed so it can re-fetch.
type DroppedPayload struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

// WSHub receives a client once its read pump ends.
type WSHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// Client is one websocket connection of an authenticated identity.
type Client struct {
	ID       string
	UserID   uint
	Username string

	Hub  WSHub
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	// IncomingHandler is called for every inbound frame.
	IncomingHandler func(*Client, []byte)

	dropped   atomic.Int64
	closeOnce sync.Once
}

// NewClient creates a Client with a fresh connection id.
func NewClient(hub WSHub, conn *websocket.Conn, userID uint, username string) *Client {
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: username,
		Hub:      hub,
		Conn:     conn,
		Send:     make(chan []byte, sendBufferSize),
	}
}

func (c *Client) hubName() string {
	if c.Hub == nil {
		return "chat"
	}
	return c.Hub.Name()
}

// ReadPump pumps inbound frames to IncomingHandler until the connection fails,
// then hands the client back to its hub.
func (c *Client) ReadPump() {
	defer func() {
		if c.Hub != nil {
			c.Hub.UnregisterClient(c)
		}
		c.Close()
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				middleware.Logger.Warn("websocket read failed", "user_id", c.UserID, "conn_id", c.ID, "error", err)
			}
			break
		}

		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump pumps queued messages to the connection and keeps it alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.write(message); err != nil {
				return
			}
			if n := c.dropped.Swap(0); n > 0 {
				ev, _ := NewEvent(EventMessagesDropped, 0, DroppedPayload{Reason: "buffer_full", Count: n})
				if err := c.write(ev.Encode()); err != nil {
					return
				}
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(message []byte) error {
	w, err := c.Conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	_, _ = w.Write(message)
	return w.Close()
}

// TrySend queues message without blocking. A full buffer drops the message; the write
// pump follows the next delivered message with a messages_dropped notice.
func (c *Client) TrySend(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(c.hubName(), "closed").Inc()
		}
	}()

	select {
	case c.Send <- message:
	default:
		c.dropped.Add(1)
		observability.WebSocketBackpressureDrops.WithLabelValues(c.hubName(), "full").Inc()
		middleware.Logger.Warn("websocket buffer full, dropped message", "user_id", c.UserID, "conn_id", c.ID)
	}
}

// Dropped reports how many messages are waiting to be announced as dropped.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// SendEvent encodes ev and queues it.
func (c *Client) SendEvent(ev Event) {
	c.TrySend(ev.Encode())
}

// Close stops the write pump. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}
