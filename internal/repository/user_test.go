package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"campuspulse/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository_SetPresenceIgnoresStaleWrites(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	u := createUsers(t, db, "ada")[0]

	t0 := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SetPresence(ctx, u.ID, true, t0.Add(time.Minute)))
	// an older offline write arrives late
	require.NoError(t, repo.SetPresence(ctx, u.ID, false, t0))

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOnline)
	assert.True(t, t0.Add(time.Minute).Equal(*got.LastSeenAt))

	require.NoError(t, repo.SetPresence(ctx, u.ID, false, t0.Add(2*time.Minute)))
	got, err = repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.IsOnline)
}

func TestUserRepository_Follow(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	users := createUsers(t, db, "ada", "bob", "cy")

	created, err := repo.Follow(ctx, users[1].ID, users[0].ID)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Follow(ctx, users[1].ID, users[0].ID)
	require.NoError(t, err)
	assert.False(t, created)

	_, err = repo.Follow(ctx, users[2].ID, users[0].ID)
	require.NoError(t, err)

	ids, err := repo.FollowerIDs(ctx, users[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{users[1].ID, users[2].ID}, ids)

	require.NoError(t, repo.Unfollow(ctx, users[1].ID, users[0].ID))
	ids, err = repo.FollowerIDs(ctx, users[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{users[2].ID}, ids)

	_, err = repo.Follow(ctx, users[0].ID, users[0].ID)
	assert.True(t, models.HasCode(err, models.CodeInvalidInput))

	_, err = repo.Follow(ctx, users[0].ID, 999)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestUserRepository_GetByUsernames(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db)
	createUsers(t, db, "ada", "bob")

	users, err := repo.GetByUsernames(context.Background(), []string{"bob", "nobody"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Username)

	users, err = repo.GetByUsernames(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestUserRepository_CreateUniqueViolation(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "users"`)).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.User{Username: "ada"})
	assert.True(t, models.HasCode(err, models.CodeConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByIDNotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE "users"."id" = $1 ORDER BY "users"."id" LIMIT $2`)).
		WithArgs(42, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username"}))

	_, err := repo.GetByID(context.Background(), 42)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
