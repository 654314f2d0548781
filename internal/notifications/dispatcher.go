package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"campuspulse/internal/middleware"
)

// Dispatcher routes events to rooms, personal channels and every connection. With
// Redis configured every instance receives the event and delivers to its own
// connections; without it delivery is local.
type Dispatcher struct {
	hub      *ChatHub
	registry *Registry
	notifier *Notifier
}

// NewDispatcher wires hub and registry to notifier, which may be disabled.
func NewDispatcher(hub *ChatHub, registry *Registry, notifier *Notifier) *Dispatcher {
	return &Dispatcher{hub: hub, registry: registry, notifier: notifier}
}

// Hub returns the room hub.
func (d *Dispatcher) Hub() *ChatHub { return d.hub }

// Registry returns the presence registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Start subscribes to the shared channels. It is a no-op without Redis.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.notifier.Enabled() {
		return nil
	}
	if err := d.hub.StartWiring(ctx, d.notifier); err != nil {
		return fmt.Errorf("room subscriber: %w", err)
	}
	err := d.notifier.StartPatternSubscriber(ctx, func(channel, payload string) {
		if channel == broadcastChannel {
			d.hub.BroadcastAll([]byte(payload))
			return
		}
		if !strings.HasPrefix(channel, "notifications:user:") {
			middleware.Logger.Warn("invalid notification channel", "channel", channel)
			return
		}
		var userID uint
		if _, err := fmt.Sscanf(channel, "notifications:user:%d", &userID); err != nil {
			middleware.Logger.Warn("invalid notification channel", "channel", channel)
			return
		}
		if c := d.registry.HandleFor(userID); c != nil {
			c.TrySend([]byte(payload))
		}
	})
	if err != nil {
		return fmt.Errorf("notification subscriber: %w", err)
	}
	return nil
}

// Room broadcasts ev to the room of chatID. seq orders the broadcast among the room's
// sequenced events; exclude skips the connections of one identity.
func (d *Dispatcher) Room(ctx context.Context, chatID uint, seq uint64, exclude uint, ev Event) error {
	data := ev.Encode()
	if !d.notifier.Enabled() {
		d.hub.Deliver(chatID, seq, exclude, data)
		return nil
	}
	packet, err := json.Marshal(roomPacket{Seq: seq, Exclude: exclude, Data: data})
	if err != nil {
		return err
	}
	return d.notifier.PublishRoom(ctx, chatID, packet)
}

// User pushes ev to the active connection of userID and reports whether a push was
// attempted. Locally an offline user gets nothing; with Redis the owning instance decides.
func (d *Dispatcher) User(ctx context.Context, userID uint, ev Event) (bool, error) {
	data := ev.Encode()
	if !d.notifier.Enabled() {
		c := d.registry.HandleFor(userID)
		if c == nil {
			return false, nil
		}
		c.TrySend(data)
		return true, nil
	}
	if err := d.notifier.PublishUser(ctx, userID, data); err != nil {
		return false, err
	}
	return true, nil
}

// All sends ev to every connection.
func (d *Dispatcher) All(ctx context.Context, ev Event) error {
	data := ev.Encode()
	if !d.notifier.Enabled() {
		d.hub.BroadcastAll(data)
		return nil
	}
	return d.notifier.PublishBroadcast(ctx, data)
}
