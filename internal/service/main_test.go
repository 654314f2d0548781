package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"campuspulse/internal/database"
	"campuspulse/internal/models"
	"campuspulse/internal/notifications"
	"campuspulse/internal/repository"
	"campuspulse/internal/stream"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	db         *gorm.DB
	userRepo   repository.UserRepository
	chatRepo   repository.ChatRepository
	noteRepo   repository.NotificationRepository
	postRepo   repository.PostRepository
	registry   *notifications.Registry
	hub        *notifications.ChatHub
	dispatcher *notifications.Dispatcher
	notes      *NotificationService
	chats      *ChatService
	router     *MessageRouter
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithNotes(t, nil)
}

// newTestEnvWithNotes swaps the notification store when noteRepo is non-nil.
func newTestEnvWithNotes(t *testing.T, noteRepo repository.NotificationRepository) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	e := &testEnv{
		db:       db,
		userRepo: repository.NewUserRepository(db),
		chatRepo: repository.NewChatRepository(db),
		noteRepo: repository.NewNotificationRepository(db),
		postRepo: repository.NewPostRepository(db),
	}
	if noteRepo != nil {
		e.noteRepo = noteRepo
	}
	e.registry = notifications.NewRegistry(e.userRepo, nil)
	e.hub = notifications.NewChatHub(time.Second)
	e.dispatcher = notifications.NewDispatcher(e.hub, e.registry, notifications.NewNotifier(nil))
	e.notes = NewNotificationService(e.noteRepo, e.dispatcher, nil)
	e.chats = NewChatService(e.chatRepo, e.userRepo)
	e.router = NewMessageRouter(e.chats, e.notes, e.dispatcher, nil)
	return e
}

func (e *testEnv) createUsers(t *testing.T, names ...string) []*models.User {
	t.Helper()
	users := make([]*models.User, len(names))
	for i, name := range names {
		users[i] = &models.User{Username: name}
		require.NoError(t, e.userRepo.Create(context.Background(), users[i]))
	}
	return users
}

// connect opens a fake connection for u through the router.
func (e *testEnv) connect(u *models.User) *notifications.Client {
	c := notifications.NewClient(e.router, nil, u.ID, u.Username)
	e.router.Connect(context.Background(), c)
	return c
}

// nextEvent returns the next event of type eventType queued for c, skipping others.
func nextEvent(t *testing.T, c *notifications.Client, eventType string) notifications.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case b := <-c.Send:
			var ev notifications.Event
			require.NoError(t, json.Unmarshal(b, &ev))
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("client %d: no %s event", c.UserID, eventType)
			return notifications.Event{}
		}
	}
}

// drainTypes returns the types of everything queued for c.
func drainTypes(t *testing.T, c *notifications.Client) []string {
	t.Helper()
	var types []string
	for {
		select {
		case b := <-c.Send:
			var ev notifications.Event
			require.NoError(t, json.Unmarshal(b, &ev))
			types = append(types, ev.Type)
		case <-time.After(30 * time.Millisecond):
			return types
		}
	}
}

var errStoreDown = errors.New("notification store down")

// failingNotificationRepo fails every write.
type failingNotificationRepo struct{}

func (failingNotificationRepo) Create(context.Context, *models.Notification) error {
	return models.NewUnavailableError(errStoreDown)
}
func (failingNotificationRepo) List(context.Context, uint, int, int) ([]*models.Notification, error) {
	return nil, models.NewUnavailableError(errStoreDown)
}
func (failingNotificationRepo) UnreadCount(context.Context, uint) (int64, error) {
	return 0, models.NewUnavailableError(errStoreDown)
}
func (failingNotificationRepo) MarkRead(context.Context, uint, uint, time.Time) error {
	return models.NewUnavailableError(errStoreDown)
}
func (failingNotificationRepo) MarkAllRead(context.Context, uint, time.Time) (int64, error) {
	return 0, models.NewUnavailableError(errStoreDown)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []stream.EngagementEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev stream.EngagementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) snapshot() []stream.EngagementEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]stream.EngagementEvent(nil), p.events...)
}

func notificationsFor(t *testing.T, db *gorm.DB, receiverID uint) []models.Notification {
	t.Helper()
	var out []models.Notification
	require.NoError(t, db.Where("receiver_id = ?", receiverID).Order("id").Find(&out).Error)
	return out
}
