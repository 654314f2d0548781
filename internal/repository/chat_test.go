package repository

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"campuspulse/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRepository_FindOrCreate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	chat, created, err := repo.FindOrCreate(ctx, 7, 3)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, chat.IsActive)
	assert.Equal(t, []uint{3, 7}, chat.Participants)

	again, created, err := repo.FindOrCreate(ctx, 3, 7)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, chat.ID, again.ID)

	_, _, err = repo.FindOrCreate(ctx, 4, 4)
	assert.True(t, models.HasCode(err, models.CodeConflict))
}

func TestChatRepository_FindOrCreateConcurrent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]uint, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := uint(1), uint(2)
			if i%2 == 1 {
				a, b = b, a
			}
			chat, _, err := repo.FindOrCreate(ctx, a, b)
			if assert.NoError(t, err) {
				ids[i] = chat.ID
			}
		}(i)
	}
	wg.Wait()

	var count int64
	require.NoError(t, db.Model(&models.Chat{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestChatRepository_AppendMessage(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	chat, _, err := repo.FindOrCreate(ctx, 1, 2)
	require.NoError(t, err)

	t.Run("last message mirrors the tail", func(t *testing.T) {
		for i, content := range []string{"hello", "hi", "how are you"} {
			sender := uint(1 + i%2)
			msg := &models.Message{ChatID: chat.ID, SenderID: sender, Content: content, Type: models.MessageTypeText}
			updated, err := repo.AppendMessage(ctx, msg)
			require.NoError(t, err)
			assert.Equal(t, uint64(i+1), msg.Seq)
			assert.False(t, msg.IsRead)

			stored, err := repo.GetByID(ctx, chat.ID)
			require.NoError(t, err)
			for _, c := range []*models.Chat{updated, stored} {
				require.NotNil(t, c.LastMessage.MessageID)
				assert.Equal(t, msg.ID, *c.LastMessage.MessageID)
				assert.Equal(t, content, c.LastMessage.Content)
				assert.Equal(t, sender, *c.LastMessage.SenderID)
				assert.True(t, msg.CreatedAt.Equal(*c.LastMessage.SentAt))
			}
		}
	})

	t.Run("non participant is forbidden and nothing is stored", func(t *testing.T) {
		var before int64
		require.NoError(t, db.Model(&models.Message{}).Count(&before).Error)

		_, err := repo.AppendMessage(ctx, &models.Message{ChatID: chat.ID, SenderID: 9, Content: "intruder", Type: models.MessageTypeText})
		assert.True(t, models.HasCode(err, models.CodeForbidden))

		var after int64
		require.NoError(t, db.Model(&models.Message{}).Count(&after).Error)
		assert.Equal(t, before, after)
	})

	t.Run("missing chat", func(t *testing.T) {
		_, err := repo.AppendMessage(ctx, &models.Message{ChatID: 999, SenderID: 1, Content: "x", Type: models.MessageTypeText})
		assert.True(t, models.HasCode(err, models.CodeNotFound))
	})

	t.Run("media round trips", func(t *testing.T) {
		msg := &models.Message{ChatID: chat.ID, SenderID: 1, Content: "pic", Type: models.MessageTypeImage,
			Media: &models.Media{URL: "https://cdn.example/p.png", StorageID: "p", Filename: "p.png", Size: 42}}
		_, err := repo.AppendMessage(ctx, msg)
		require.NoError(t, err)

		page, err := repo.ListMessages(ctx, chat.ID, 1, 0)
		require.NoError(t, err)
		require.Len(t, page, 1)
		require.NotNil(t, page[0].Media)
		assert.Equal(t, "p.png", page[0].Media.Filename)
	})
}

func TestChatRepository_AppendMessageConcurrent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	chat, _, err := repo.FindOrCreate(ctx, 1, 2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.AppendMessage(ctx, &models.Message{ChatID: chat.ID, SenderID: uint(1 + i%2), Content: "m", Type: models.MessageTypeText})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := repo.ListMessages(ctx, chat.ID, 50, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 10)
	for i, m := range msgs {
		assert.Equal(t, uint64(i+1), m.Seq)
	}

	stored, err := repo.GetByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, msgs[9].ID, *stored.LastMessage.MessageID)
	assert.Equal(t, uint64(10), stored.MessageSeq)
}

func TestChatRepository_MarkRead(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	chat, _, err := repo.FindOrCreate(ctx, 1, 2)
	require.NoError(t, err)
	for _, sender := range []uint{1, 1, 2} {
		_, err := repo.AppendMessage(ctx, &models.Message{ChatID: chat.ID, SenderID: sender, Content: "m", Type: models.MessageTypeText})
		require.NoError(t, err)
	}

	first := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	n, err := repo.MarkRead(ctx, chat.ID, 2, first)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.MarkRead(ctx, chat.ID, 2, first.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	msgs, err := repo.ListMessages(ctx, chat.ID, 10, 0)
	require.NoError(t, err)
	for _, m := range msgs {
		if m.SenderID == 2 {
			assert.False(t, m.IsRead, "reader's own message must stay unread")
			assert.Nil(t, m.ReadAt)
			continue
		}
		assert.True(t, m.IsRead)
		require.NotNil(t, m.ReadAt)
		assert.True(t, first.Equal(*m.ReadAt))
	}

	_, err = repo.MarkRead(ctx, chat.ID, 3, first)
	assert.True(t, models.HasCode(err, models.CodeForbidden))
}

func TestChatRepository_RemoveMessage(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	chat, _, err := repo.FindOrCreate(ctx, 1, 2)
	require.NoError(t, err)

	first := &models.Message{ChatID: chat.ID, SenderID: 1, Content: "first", Type: models.MessageTypeText}
	_, err = repo.AppendMessage(ctx, first)
	require.NoError(t, err)
	second := &models.Message{ChatID: chat.ID, SenderID: 2, Content: "second", Type: models.MessageTypeText}
	_, err = repo.AppendMessage(ctx, second)
	require.NoError(t, err)

	_, err = repo.RemoveMessage(ctx, chat.ID, second.ID, 1)
	assert.True(t, models.HasCode(err, models.CodeForbidden))

	_, err = repo.RemoveMessage(ctx, chat.ID, 999, 1)
	assert.True(t, models.HasCode(err, models.CodeNotFound))

	updated, err := repo.RemoveMessage(ctx, chat.ID, second.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, updated.LastMessage.MessageID)
	assert.Equal(t, first.ID, *updated.LastMessage.MessageID)
	assert.Equal(t, "first", updated.LastMessage.Content)

	updated, err = repo.RemoveMessage(ctx, chat.ID, first.ID, 1)
	require.NoError(t, err)
	assert.Nil(t, updated.LastMessage.MessageID)
	assert.Empty(t, updated.LastMessage.Content)

	// sequence numbers are never reused
	third := &models.Message{ChatID: chat.ID, SenderID: 1, Content: "third", Type: models.MessageTypeText}
	_, err = repo.AppendMessage(ctx, third)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), third.Seq)
}

func TestChatRepository_SoftDeleteAndList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	older, _, err := repo.FindOrCreate(ctx, 1, 2)
	require.NoError(t, err)
	newer, _, err := repo.FindOrCreate(ctx, 1, 3)
	require.NoError(t, err)

	_, err = repo.AppendMessage(ctx, &models.Message{ChatID: older.ID, SenderID: 2, Content: "a", Type: models.MessageTypeText})
	require.NoError(t, err)
	_, err = repo.AppendMessage(ctx, &models.Message{ChatID: newer.ID, SenderID: 3, Content: "b", Type: models.MessageTypeText})
	require.NoError(t, err)
	_, err = repo.AppendMessage(ctx, &models.Message{ChatID: newer.ID, SenderID: 3, Content: "c", Type: models.MessageTypeText})
	require.NoError(t, err)

	chats, err := repo.ListForUser(ctx, 1, 10, 0)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, newer.ID, chats[0].ID)
	assert.Equal(t, int64(2), chats[0].UnreadCount)
	assert.Equal(t, int64(1), chats[1].UnreadCount)

	total, err := repo.UnreadCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	assert.True(t, models.HasCode(repo.SoftDelete(ctx, older.ID, 5), models.CodeForbidden))
	require.NoError(t, repo.SoftDelete(ctx, older.ID, 2))

	chats, err = repo.ListForUser(ctx, 1, 10, 0)
	require.NoError(t, err)
	require.Len(t, chats, 1)

	var kept int64
	require.NoError(t, db.Model(&models.Message{}).Where("chat_id = ?", older.ID).Count(&kept).Error)
	assert.Equal(t, int64(1), kept)

	revived, created, err := repo.FindOrCreate(ctx, 2, 1)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, older.ID, revived.ID)
	assert.True(t, revived.IsActive)
}

func TestChatRepository_AppendReactivatesSoftDeletedChat(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	chat, _, err := repo.FindOrCreate(ctx, 1, 2)
	require.NoError(t, err)
	_, err = repo.AppendMessage(ctx, &models.Message{ChatID: chat.ID, SenderID: 1, Content: "hi", Type: models.MessageTypeText})
	require.NoError(t, err)
	require.NoError(t, repo.SoftDelete(ctx, chat.ID, 1))

	for _, userID := range []uint{1, 2} {
		chats, err := repo.ListForUser(ctx, userID, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, chats)
	}

	updated, err := repo.AppendMessage(ctx, &models.Message{ChatID: chat.ID, SenderID: 2, Content: "still there?", Type: models.MessageTypeText})
	require.NoError(t, err)
	assert.True(t, updated.IsActive)

	for _, userID := range []uint{1, 2} {
		chats, err := repo.ListForUser(ctx, userID, 10, 0)
		require.NoError(t, err)
		require.Len(t, chats, 1)
		assert.Equal(t, "still there?", chats[0].LastMessage.Content)
	}

	var history int64
	require.NoError(t, db.Model(&models.Message{}).Where("chat_id = ?", chat.ID).Count(&history).Error)
	assert.Equal(t, int64(2), history)
}

func TestChatRepository_ListMessagesPagination(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	chat, _, err := repo.FindOrCreate(ctx, 1, 2)
	require.NoError(t, err)
	for _, c := range []string{"m1", "m2", "m3", "m4", "m5"} {
		_, err := repo.AppendMessage(ctx, &models.Message{ChatID: chat.ID, SenderID: 1, Content: c, Type: models.MessageTypeText})
		require.NoError(t, err)
	}

	latest, err := repo.ListMessages(ctx, chat.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "m4", latest[0].Content)
	assert.Equal(t, "m5", latest[1].Content)

	older, err := repo.ListMessages(ctx, chat.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "m2", older[0].Content)
}

func TestChatRepository_AppendMessagePostgres(t *testing.T) {
	lockQuery := `SELECT \* FROM "chats" WHERE "chats"."id" = \$1 ORDER BY "chats"."id" LIMIT \$2 FOR UPDATE`
	chatCols := []string{"id", "user_low_id", "user_high_id", "is_active", "message_seq"}

	t.Run("locks the chat row and rolls back a failed insert", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewChatRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(5, 1).
			WillReturnRows(sqlmock.NewRows(chatCols).AddRow(5, 1, 2, true, 3))
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "messages"`)).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		_, err := repo.AppendMessage(context.Background(), &models.Message{ChatID: 5, SenderID: 1, Content: "hi", Type: models.MessageTypeText})
		assert.True(t, models.HasCode(err, models.CodeUnavailable))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("forbidden sender never inserts", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewChatRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(5, 1).
			WillReturnRows(sqlmock.NewRows(chatCols).AddRow(5, 1, 2, true, 3))
		mock.ExpectRollback()

		_, err := repo.AppendMessage(context.Background(), &models.Message{ChatID: 5, SenderID: 9, Content: "hi", Type: models.MessageTypeText})
		assert.True(t, models.HasCode(err, models.CodeForbidden))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
