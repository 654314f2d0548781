package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const registryShards = 32

// Directory records the online flag and last-seen time of an identity. Writes older
// than the stored last-seen time must be ignored.
type Directory interface {
	SetPresence(ctx context.Context, userID uint, online bool, at time.Time) error
}

// Registry maps an identity to its single active connection.
type Registry struct {
	shards [registryShards]registryShard
	dir    Directory
	now    func() time.Time
	logger *slog.Logger
}

type registryShard struct {
	mu      sync.Mutex
	handles map[uint]*Client
	last    time.Time
}

// stamp returns a timestamp strictly after any earlier stamp of this shard, so
// directory writes for one identity are totally ordered. Caller holds mu.
func (s *registryShard) stamp(now time.Time) time.Time {
	at := now.UTC().Truncate(time.Microsecond)
	if !at.After(s.last) {
		at = s.last.Add(time.Microsecond)
	}
	s.last = at
	return at
}

// NewRegistry returns an empty Registry. dir may be nil.
func NewRegistry(dir Directory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{dir: dir, now: time.Now, logger: logger}
	for i := range r.shards {
		r.shards[i].handles = make(map[uint]*Client)
	}
	return r
}

func (r *Registry) shard(userID uint) *registryShard {
	return &r.shards[userID%registryShards]
}

// Register makes c the active connection of its identity and marks the identity online.
// The connection it replaces, if any, is returned after being told it was superseded.
func (r *Registry) Register(ctx context.Context, c *Client) *Client {
	s := r.shard(c.UserID)
	s.mu.Lock()
	prev := s.handles[c.UserID]
	s.handles[c.UserID] = c
	at := s.stamp(r.now())
	s.mu.Unlock()

	r.writePresence(ctx, c.UserID, true, at)

	if prev != nil && prev != c {
		ev, _ := NewEvent(EventSessionSuperseded, 0, map[string]string{"conn_id": c.ID})
		prev.SendEvent(ev)
		return prev
	}
	return nil
}

// Unregister removes c if it is still the active connection of its identity and
// reports whether the identity went offline.
func (r *Registry) Unregister(ctx context.Context, c *Client) bool {
	s := r.shard(c.UserID)
	s.mu.Lock()
	if s.handles[c.UserID] != c {
		s.mu.Unlock()
		return false
	}
	delete(s.handles, c.UserID)
	at := s.stamp(r.now())
	s.mu.Unlock()

	r.writePresence(ctx, c.UserID, false, at)
	return true
}

// IsOnline reports whether userID has an active connection on this instance.
func (r *Registry) IsOnline(userID uint) bool {
	return r.HandleFor(userID) != nil
}

// HandleFor returns the active connection of userID, or nil when offline.
func (r *Registry) HandleFor(userID uint) *Client {
	s := r.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[userID]
}

// Count returns the number of online identities.
func (r *Registry) Count() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		n += len(s.handles)
		s.mu.Unlock()
	}
	return n
}

func (r *Registry) writePresence(ctx context.Context, userID uint, online bool, at time.Time) {
	if r.dir == nil {
		return
	}
	if err := r.dir.SetPresence(ctx, userID, online, at); err != nil {
		r.logger.WarnContext(ctx, "presence update failed",
			slog.Uint64("user_id", uint64(userID)),
			slog.Bool("online", online),
			slog.String("error", err.Error()),
		)
	}
}
