package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"campuspulse/internal/models"
	"campuspulse/internal/notifications"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRouter_HelloScenario(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	users := e.createUsers(t, "alice", "bob")
	alice, bob := users[0], users[1]
	bobConn := e.connect(bob)

	chat, created, err := e.chats.FindOrCreate(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, created)

	msg, err := e.router.Send(ctx, SendInput{ChatID: chat.ID, SenderID: alice.ID, Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeText, msg.Type)

	var chats []models.Chat
	require.NoError(t, e.db.Find(&chats).Error)
	require.Len(t, chats, 1)
	assert.ElementsMatch(t, []uint{alice.ID, bob.ID}, chats[0].Participants)

	var msgs []models.Message
	require.NoError(t, e.db.Find(&msgs).Error)
	require.Len(t, msgs, 1)
	assert.Equal(t, alice.ID, msgs[0].SenderID)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.False(t, msgs[0].IsRead)

	notes := notificationsFor(t, e.db, bob.ID)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationChat, notes[0].Type)
	assert.Equal(t, alice.ID, notes[0].SenderID)
	require.NotNil(t, notes[0].ChatID)
	assert.Equal(t, chat.ID, *notes[0].ChatID)

	ev := nextEvent(t, bobConn, notifications.EventNewNotification)
	var payload NotificationPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, notes[0].ID, payload.ID)
	assert.Equal(t, models.NotificationChat, payload.Type)
	assert.Equal(t, alice.ID, payload.SenderID)
}

func TestMessageRouter_RoomBroadcastInOrder(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	users := e.createUsers(t, "alice", "bob")
	aliceConn := e.connect(users[0])
	bobConn := e.connect(users[1])

	chat, _, err := e.chats.FindOrCreate(ctx, users[0].ID, users[1].ID)
	require.NoError(t, err)
	require.NoError(t, e.router.Join(ctx, chat.ID, aliceConn))
	require.NoError(t, e.router.Join(ctx, chat.ID, bobConn))
	assert.Equal(t, chat.ID, nextEvent(t, aliceConn, notifications.EventJoinedChat).ChatID)

	for _, content := range []string{"one", "two", "three"} {
		_, err := e.router.Send(ctx, SendInput{ChatID: chat.ID, SenderID: users[0].ID, Content: content})
		require.NoError(t, err)
	}

	for _, c := range []*notifications.Client{aliceConn, bobConn} {
		for want := uint64(1); want <= 3; want++ {
			ev := nextEvent(t, c, notifications.EventNewMessage)
			assert.Equal(t, want, ev.Seq)
			var m models.Message
			require.NoError(t, json.Unmarshal(ev.Payload, &m))
			assert.Equal(t, want, m.Seq)
		}
	}
}

func TestMessageRouter_NonParticipant(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	users := e.createUsers(t, "alice", "bob", "mallory")
	aliceConn := e.connect(users[0])
	malloryConn := e.connect(users[2])

	chat, _, err := e.chats.FindOrCreate(ctx, users[0].ID, users[1].ID)
	require.NoError(t, err)
	require.NoError(t, e.router.Join(ctx, chat.ID, aliceConn))
	drainTypes(t, aliceConn)

	_, err = e.router.Send(ctx, SendInput{ChatID: chat.ID, SenderID: users[2].ID, Content: "let me in"})
	assert.True(t, models.HasCode(err, models.CodeForbidden))

	var count int64
	require.NoError(t, e.db.Model(&models.Message{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Empty(t, drainTypes(t, aliceConn))
	assert.Empty(t, notificationsFor(t, e.db, users[1].ID))

	err = e.router.Join(ctx, chat.ID, malloryConn)
	assert.True(t, models.HasCode(err, models.CodeForbidden))
	assert.False(t, e.hub.IsJoined(chat.ID, malloryConn))

	err = e.router.Join(ctx, 9999, malloryConn)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestMessageRouter_SendErrorsAreVerbatim(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	users := e.createUsers(t, "alice", "bob")
	chat, _, err := e.chats.FindOrCreate(ctx, users[0].ID, users[1].ID)
	require.NoError(t, err)

	_, err = e.router.Send(ctx, SendInput{ChatID: chat.ID, SenderID: users[0].ID, Content: "  "})
	assert.True(t, models.HasCode(err, models.CodeInvalidInput))

	_, err = e.router.Send(ctx, SendInput{ChatID: chat.ID, SenderID: users[0].ID, Content: "pic", Type: models.MessageTypeImage})
	assert.True(t, models.HasCode(err, models.CodeInvalidInput))

	_, err = e.router.Send(ctx, SendInput{ChatID: 404, SenderID: users[0].ID, Content: "hi"})
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestMessageRouter_NotificationFailureDoesNotFailSend(t *testing.T) {
	e := newTestEnvWithNotes(t, failingNotificationRepo{})
	ctx := context.Background()
	users := e.createUsers(t, "alice", "bob")
	bobConn := e.connect(users[1])
	chat, _, err := e.chats.FindOrCreate(ctx, users[0].ID, users[1].ID)
	require.NoError(t, err)
	require.NoError(t, e.router.Join(ctx, chat.ID, bobConn))

	msg, err := e.router.Send(ctx, SendInput{ChatID: chat.ID, SenderID: users[0].ID, Content: "still delivered"})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)

	types := drainTypes(t, bobConn)
	assert.Contains(t, types, notifications.EventNewMessage)
	assert.NotContains(t, types, notifications.EventNewNotification)
}

func TestMessageRouter_Typing(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	users := e.createUsers(t, "alice", "bob")
	aliceConn := e.connect(users[0])
	bobConn := e.connect(users[1])
	chat, _, err := e.chats.FindOrCreate(ctx, users[0].ID, users[1].ID)
	require.NoError(t, err)

	err = e.router.Typing(ctx, chat.ID, aliceConn, true)
	assert.True(t, models.HasCode(err, models.CodeForbidden), "typing requires a joined room")

	require.NoError(t, e.router.Join(ctx, chat.ID, aliceConn))
	require.NoError(t, e.router.Join(ctx, chat.ID, bobConn))
	drainTypes(t, aliceConn)
	drainTypes(t, bobConn)

	require.NoError(t, e.router.Typing(ctx, chat.ID, aliceConn, true))
	require.NoError(t, e.router.Typing(ctx, chat.ID, aliceConn, true))

	ev := nextEvent(t, bobConn, notifications.EventUserTyping)
	var p notifications.TypingPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	assert.Equal(t, notifications.TypingPayload{UserID: users[0].ID, Username: "alice", IsTyping: true}, p)
	assert.Empty(t, drainTypes(t, bobConn), "repeated typing state is dropped")
	assert.Empty(t, drainTypes(t, aliceConn), "typist does not see its own indicator")

	require.NoError(t, e.router.Typing(ctx, chat.ID, aliceConn, false))
	ev = nextEvent(t, bobConn, notifications.EventUserTyping)
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	assert.False(t, p.IsTyping)

	var count int64
	require.NoError(t, e.db.Model(&models.Message{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestMessageRouter_LeaveStopsDelivery(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	users := e.createUsers(t, "alice", "bob")
	bobConn := e.connect(users[1])
	chat, _, err := e.chats.FindOrCreate(ctx, users[0].ID, users[1].ID)
	require.NoError(t, err)
	require.NoError(t, e.router.Join(ctx, chat.ID, bobConn))

	e.router.Leave(ctx, chat.ID, bobConn)
	assert.Equal(t, chat.ID, nextEvent(t, bobConn, notifications.EventLeftChat).ChatID)

	_, err = e.router.Send(ctx, SendInput{ChatID: chat.ID, SenderID: users[0].ID, Content: "anyone?"})
	require.NoError(t, err)
	types := drainTypes(t, bobConn)
	assert.NotContains(t, types, notifications.EventNewMessage)
	assert.Contains(t, types, notifications.EventNewNotification)
}

func TestMessageRouter_ConnectDisconnect(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	users := e.createUsers(t, "alice", "bob")
	aliceConn := e.connect(users[0])

	first := e.connect(users[1])
	second := e.connect(users[1])
	nextEvent(t, first, notifications.EventSessionSuperseded)
	assert.Same(t, second, e.registry.HandleFor(users[1].ID))

	stored, err := e.userRepo.GetByID(ctx, users[1].ID)
	require.NoError(t, err)
	assert.True(t, stored.IsOnline)

	// the superseded connection closing leaves bob online
	e.router.Disconnect(ctx, first)
	assert.NotContains(t, drainTypes(t, aliceConn), notifications.EventUserOffline)
	assert.True(t, e.registry.IsOnline(users[1].ID))

	e.router.UnregisterClient(second)
	ev := nextEvent(t, aliceConn, notifications.EventUserOffline)
	var p notifications.UserOfflinePayload
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	assert.Equal(t, users[1].ID, p.UserID)
	assert.Equal(t, "bob", p.Username)

	stored, err = e.userRepo.GetByID(ctx, users[1].ID)
	require.NoError(t, err)
	assert.False(t, stored.IsOnline)
	assert.NotNil(t, stored.LastSeenAt)
}

func TestMessageRouter_JoinCatchesUpWithConcurrentSend(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	users := e.createUsers(t, "alice", "bob")
	bobConn := e.connect(users[1])

	chat, _, err := e.chats.FindOrCreate(ctx, users[0].ID, users[1].ID)
	require.NoError(t, err)
	stale, err := e.chats.Get(ctx, chat.ID, users[1].ID)
	require.NoError(t, err)

	// the send lands between the membership read and the room join
	_, err = e.router.Send(ctx, SendInput{ChatID: chat.ID, SenderID: users[0].ID, Content: "racing"})
	require.NoError(t, err)
	e.hub.Join(chat.ID, bobConn, stale.MessageSeq)
	require.NoError(t, e.router.Join(ctx, chat.ID, bobConn))
	drainTypes(t, bobConn)

	_, err = e.router.Send(ctx, SendInput{ChatID: chat.ID, SenderID: users[0].ID, Content: "after join"})
	require.NoError(t, err)

	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case b := <-bobConn.Send:
			var ev notifications.Event
			require.NoError(t, json.Unmarshal(b, &ev))
			if ev.Type != notifications.EventNewMessage {
				continue
			}
			assert.Equal(t, uint64(2), ev.Seq)
			return
		case <-deadline:
			t.Fatal("message after join waited for the gap timeout")
		}
	}
}
