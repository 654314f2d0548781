package notifications

import (
	"context"
	"runtime/debug"
	"strconv"

	"campuspulse/internal/middleware"

	"github.com/redis/go-redis/v9"
)

const broadcastChannel = "notifications:broadcast"

// Notifier publishes into and subscribes to the Redis channels shared by all instances.
// A Notifier without a client is disabled and every call is a no-op.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a Notifier over rdb, which may be nil.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Enabled reports whether a Redis client is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.rdb != nil
}

// PublishUser sends payload to a user's personal channel.
func (n *Notifier) PublishUser(ctx context.Context, userID uint, payload []byte) error {
	if !n.Enabled() {
		return nil
	}
	return n.rdb.Publish(ctx, UserChannel(userID), payload).Err()
}

// PublishBroadcast sends payload to every connection on every instance.
func (n *Notifier) PublishBroadcast(ctx context.Context, payload []byte) error {
	if !n.Enabled() {
		return nil
	}
	return n.rdb.Publish(ctx, broadcastChannel, payload).Err()
}

// PublishRoom sends an encoded room packet to a chat room channel.
func (n *Notifier) PublishRoom(ctx context.Context, chatID uint, payload []byte) error {
	if !n.Enabled() {
		return nil
	}
	return n.rdb.Publish(ctx, ConversationChannel(chatID), payload).Err()
}

// StartPatternSubscriber subscribes to personal channels and the broadcast channel.
func (n *Notifier) StartPatternSubscriber(ctx context.Context, onMessage func(channel, payload string)) error {
	return n.subscribe(ctx, "PatternSubscriber", onMessage, "notifications:user:*", broadcastChannel)
}

// StartChatSubscriber subscribes to every chat room channel.
func (n *Notifier) StartChatSubscriber(ctx context.Context, onMessage func(channel, payload string)) error {
	return n.subscribe(ctx, "ChatSubscriber", onMessage, "chat:conv:*")
}

func (n *Notifier) subscribe(ctx context.Context, name string, onMessage func(channel, payload string), patterns ...string) error {
	if !n.Enabled() {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, patterns...)
	// wait for the subscription confirmation so publishes right after Start are not lost
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							middleware.Logger.Error("panic in subscriber", "subscriber", name, "panic", r, "stack", string(debug.Stack()))
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID uint) string {
	return "notifications:user:" + strconv.FormatUint(uint64(userID), 10)
}

// ConversationChannel derives the Redis channel name for a chat room.
func ConversationChannel(chatID uint) string {
	return "chat:conv:" + strconv.FormatUint(uint64(chatID), 10)
}
