package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"campuspulse/internal/middleware"
	"campuspulse/internal/observability"
)

// DefaultGapTimeout bounds how long a room waits for a missing sequence number.
const DefaultGapTimeout = 2 * time.Second

var shutdownNotice = []byte(`{"type":"server_shutdown","payload":{"message":"Server is shutting down"}}`)

// ChatHub tracks chat rooms on this instance. Sequenced broadcasts reach every
// member in sequence order; a gap is released after the gap timeout.
type ChatHub struct {
	mu          sync.Mutex
	rooms       map[uint]*room
	memberships map[*Client]map[uint]struct{}
	conns       map[*Client]struct{}
	gapTimeout  time.Duration
}

type room struct {
	members  map[*Client]struct{}
	typing   map[uint]bool
	nextSeq  uint64
	pending  map[uint64]roomPacket
	gapTimer *time.Timer
}

// roomPacket is the pub/sub form of a room broadcast.
type roomPacket struct {
	Seq     uint64          `json:"seq,omitempty"`
	Exclude uint            `json:"exclude,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// NewChatHub creates an empty hub. A non-positive gapTimeout uses DefaultGapTimeout.
func NewChatHub(gapTimeout time.Duration) *ChatHub {
	if gapTimeout <= 0 {
		gapTimeout = DefaultGapTimeout
	}
	return &ChatHub{
		rooms:       make(map[uint]*room),
		memberships: make(map[*Client]map[uint]struct{}),
		conns:       make(map[*Client]struct{}),
		gapTimeout:  gapTimeout,
	}
}

// Name returns a human-readable identifier for this hub.
func (h *ChatHub) Name() string { return "chat" }

// Attach tracks c for instance-wide broadcasts.
func (h *ChatHub) Attach(c *Client) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	middleware.ActiveWebSockets.Inc()
}

// Detach forgets c and removes it from every room. It returns the rooms it left.
func (h *ChatHub) Detach(c *Client) []uint {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		middleware.ActiveWebSockets.Dec()
	}

	left := make([]uint, 0, len(h.memberships[c]))
	for chatID := range h.memberships[c] {
		h.leaveLocked(chatID, c)
		left = append(left, chatID)
	}
	sort.Slice(left, func(i, j int) bool { return left[i] < left[j] })
	return left
}

// Join adds c to the room of chatID. lastSeq is the chat's latest message sequence
// as read during the membership check; a new room expects lastSeq+1 next.
func (h *ChatHub) Join(chatID uint, c *Client, lastSeq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[chatID]
	if !ok {
		r = &room{
			members: make(map[*Client]struct{}),
			typing:  make(map[uint]bool),
			nextSeq: lastSeq + 1,
			pending: make(map[uint64]roomPacket),
		}
		h.rooms[chatID] = r
	}
	if _, joined := r.members[c]; joined {
		return
	}
	r.members[c] = struct{}{}

	if h.memberships[c] == nil {
		h.memberships[c] = make(map[uint]struct{})
	}
	h.memberships[c][chatID] = struct{}{}
	observability.RoomSubscribers.Inc()
}

// Advance moves the room cursor of chatID past seq. Broadcasts at or below seq that
// missed the room are not waited for; pending ones are released in order.
func (h *ChatHub) Advance(chatID uint, seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[chatID]
	if !ok || seq < r.nextSeq {
		return
	}
	for ; r.nextSeq <= seq; r.nextSeq++ {
		if p, ok := r.pending[r.nextSeq]; ok {
			delete(r.pending, r.nextSeq)
			r.send(p)
		}
	}
	r.drain()
}

// Leave removes c from the room of chatID and reports whether it was a member.
func (h *ChatHub) Leave(chatID uint, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(chatID, c)
}

func (h *ChatHub) leaveLocked(chatID uint, c *Client) bool {
	r, ok := h.rooms[chatID]
	if !ok {
		return false
	}
	if _, joined := r.members[c]; !joined {
		return false
	}
	delete(r.members, c)
	observability.RoomSubscribers.Dec()

	if m := h.memberships[c]; m != nil {
		delete(m, chatID)
		if len(m) == 0 {
			delete(h.memberships, c)
		}
	}

	stillJoined := false
	for other := range r.members {
		if other.UserID == c.UserID {
			stillJoined = true
			break
		}
	}
	if !stillJoined {
		delete(r.typing, c.UserID)
	}

	if len(r.members) == 0 {
		if r.gapTimer != nil {
			r.gapTimer.Stop()
		}
		delete(h.rooms, chatID)
	}
	return true
}

// IsJoined reports whether c is a member of the room of chatID.
func (h *ChatHub) IsJoined(chatID uint, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[chatID]
	if !ok {
		return false
	}
	_, joined := r.members[c]
	return joined
}

// Members returns the number of connections joined to chatID.
func (h *ChatHub) Members(chatID uint) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[chatID]; ok {
		return len(r.members)
	}
	return 0
}

// SetTyping records the typing state of userID in chatID and reports whether it changed.
func (h *ChatHub) SetTyping(chatID, userID uint, typing bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[chatID]
	if !ok {
		return false
	}
	if r.typing[userID] == typing {
		return false
	}
	if typing {
		r.typing[userID] = true
	} else {
		delete(r.typing, userID)
	}
	return true
}

// Deliver fans data out to the room of chatID, skipping connections of exclude.
// seq zero bypasses sequencing.
func (h *ChatHub) Deliver(chatID uint, seq uint64, exclude uint, data []byte) {
	h.deliver(chatID, roomPacket{Seq: seq, Exclude: exclude, Data: data})
}

func (h *ChatHub) deliver(chatID uint, p roomPacket) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[chatID]
	if !ok {
		return
	}

	switch {
	case p.Seq == 0 || p.Seq < r.nextSeq:
		r.send(p)
	case p.Seq == r.nextSeq:
		r.send(p)
		r.nextSeq++
		r.drain()
	default:
		r.pending[p.Seq] = p
		if r.gapTimer == nil {
			r.gapTimer = time.AfterFunc(h.gapTimeout, func() { h.releaseGap(chatID, r) })
		}
	}
}

// releaseGap gives up on the missing sequence numbers and flushes what is pending.
func (h *ChatHub) releaseGap(chatID uint, r *room) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[chatID] != r {
		return
	}
	r.gapTimer = nil
	if len(r.pending) == 0 {
		return
	}

	var lowest uint64
	for seq := range r.pending {
		if lowest == 0 || seq < lowest {
			lowest = seq
		}
	}
	observability.RoomSequenceGaps.Inc()
	r.nextSeq = lowest
	r.drain()
	if len(r.pending) > 0 {
		r.gapTimer = time.AfterFunc(h.gapTimeout, func() { h.releaseGap(chatID, r) })
	}
}

// drain sends consecutive pending packets. Caller holds the hub lock.
func (r *room) drain() {
	for {
		p, ok := r.pending[r.nextSeq]
		if !ok {
			break
		}
		delete(r.pending, r.nextSeq)
		r.send(p)
		r.nextSeq++
	}
	if len(r.pending) == 0 && r.gapTimer != nil {
		r.gapTimer.Stop()
		r.gapTimer = nil
	}
}

func (r *room) send(p roomPacket) {
	for c := range r.members {
		if p.Exclude != 0 && c.UserID == p.Exclude {
			continue
		}
		c.TrySend(p.Data)
	}
}

// BroadcastAll sends data to every attached connection.
func (h *ChatHub) BroadcastAll(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.TrySend(data)
	}
}

// StartWiring delivers room packets published by any instance to local rooms.
func (h *ChatHub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartChatSubscriber(ctx, func(channel, payload string) {
		var chatID uint
		if _, err := fmt.Sscanf(channel, "chat:conv:%d", &chatID); err != nil {
			middleware.Logger.Warn("invalid room channel", "channel", channel)
			return
		}
		var p roomPacket
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			middleware.Logger.Warn("invalid room packet", "channel", channel, "error", err)
			return
		}
		h.deliver(chatID, p)
	})
}

// Shutdown tells every connection the server is going away and stops their write pumps.
func (h *ChatHub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.conns {
		c.TrySend(shutdownNotice)
		c.Close()
	}
	for _, r := range h.rooms {
		if r.gapTimer != nil {
			r.gapTimer.Stop()
		}
		observability.RoomSubscribers.Sub(float64(len(r.members)))
	}
	middleware.ActiveWebSockets.Sub(float64(len(h.conns)))
	h.rooms = make(map[uint]*room)
	h.memberships = make(map[*Client]map[uint]struct{})
	h.conns = make(map[*Client]struct{})
	return nil
}
