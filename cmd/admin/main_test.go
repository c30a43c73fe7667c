package main

import (
	"context"
	"testing"
	"time"

	"mapmo/backend/internal/models"
	"mapmo/backend/internal/storage"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, started time.Time) (*storage.MemoryStore, *models.Room) {
	t.Helper()
	ctx := context.Background()
	s := storage.NewMemoryStore()
	for _, id := range []string{"alice", "bob"} {
		require.NoError(t, s.SaveUser(ctx, &models.User{ID: id, Nickname: id, Status: models.StatusSearching}))
	}
	room := models.NewRoom("alice", "bob", models.SearchChat, started)
	require.NoError(t, s.CreateRoomForPair(ctx, room))
	return s, room
}

func TestRun_BanAndUnban(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s, _ := seed(t, now)

	require.NoError(t, run(ctx, s, []string{"ban", "alice", "2"}, now))
	banned, err := s.IsUserBanned(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, banned)

	require.NoError(t, run(ctx, s, []string{"unban", "alice"}, now))
	banned, err = s.IsUserBanned(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, run(ctx, s, []string{"ban", "bob"}, now))
	u, err := s.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, u.IsBanned(now.Add(50*365*24*time.Hour)))

	assert.Error(t, run(ctx, s, []string{"ban", "alice", "-3"}, now))
	assert.Error(t, run(ctx, s, []string{"ban", "nobody"}, now))
	assert.Error(t, run(ctx, s, []string{"unban"}, now))
	assert.Error(t, run(ctx, s, []string{"explode"}, now))
}

func TestRun_CleanupRooms(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s, room := seed(t, now.Add(-3*time.Hour))

	require.NoError(t, run(ctx, s, []string{"cleanup-rooms", "4"}, now))
	r, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, r.IsActive())

	require.NoError(t, run(ctx, s, []string{"cleanup-rooms", "2"}, now))
	r, err = s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, r.IsActive())

	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, u.Status)
}

func TestRun_ResetUser(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s, room := seed(t, now)

	require.NoError(t, run(ctx, s, []string{"reset-user", "bob"}, now))
	r, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, r.IsActive())

	u, err := s.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, u.Status)
	assert.Nil(t, u.CurrentRoomID)

	// Idle users reset cleanly.
	require.NoError(t, run(ctx, s, []string{"reset-user", "bob"}, now))
	assert.Error(t, run(ctx, s, []string{"reset-user", "ghost"}, now))
}

func TestRun_ResetUserClearsStaleRoomPointer(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := storage.NewMemoryStore()
	require.NoError(t, s.SaveUser(ctx, &models.User{
		ID:            "carol",
		Nickname:      "carol",
		Status:        models.StatusConnected,
		CurrentRoomID: lo.ToPtr("gone-room"),
	}))

	require.NoError(t, run(ctx, s, []string{"reset-user", "carol"}, now))
	u, err := s.GetUser(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, u.Status)
	assert.False(t, u.InRoom())
}
