package storage_test

import (
	"context"
	"testing"
	"time"

	"mapmo/backend/internal/errs"
	"mapmo/backend/internal/models"
	"mapmo/backend/internal/storage"

	"github.com/lib/pq"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, s *storage.MemoryStore, id string, status models.UserStatus) {
	t.Helper()
	require.NoError(t, s.SaveUser(context.Background(), &models.User{
		ID:               id,
		Nickname:         id,
		Gender:           "female",
		PreferredGenders: pq.StringArray{models.GenderAll},
		Needs:            pq.StringArray{"friendship"},
		Interests:        pq.StringArray{"music"},
		Status:           status,
	}))
}

func TestMemoryStore_CreateRoomForPair(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	seedUser(t, s, "alice", models.StatusSearching)
	seedUser(t, s, "bob", models.StatusSearching)

	room := models.NewRoom("bob", "alice", models.SearchChat, time.Now())
	require.NoError(t, s.CreateRoomForPair(ctx, room))

	for _, id := range []string{"alice", "bob"} {
		u, err := s.GetUser(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusConnected, u.Status)
		require.NotNil(t, u.CurrentRoomID)
		assert.Equal(t, room.ID, *u.CurrentRoomID)
	}

	stored, err := s.ActiveRoomForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, room.ID, stored.ID)
}

func TestMemoryStore_CreateRoomForPair_ConflictLeavesNoRoom(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	seedUser(t, s, "alice", models.StatusSearching)
	seedUser(t, s, "bob", models.StatusIdle)

	room := models.NewRoom("alice", "bob", models.SearchChat, time.Now())
	err := s.CreateRoomForPair(ctx, room)

	assert.ErrorIs(t, err, storage.ErrStatusConflict)
	assert.ErrorIs(t, err, errs.ErrStaleState)
	_, err = s.GetRoom(ctx, room.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	alice, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSearching, alice.Status)
	assert.Nil(t, alice.CurrentRoomID)
}

func TestMemoryStore_EndRoom(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	seedUser(t, s, "alice", models.StatusSearching)
	seedUser(t, s, "bob", models.StatusSearching)
	room := models.NewRoom("alice", "bob", models.SearchChat, time.Now())
	require.NoError(t, s.CreateRoomForPair(ctx, room))

	ended, err := s.EndRoom(ctx, room.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ended.IsActive())

	for _, id := range []string{"alice", "bob"} {
		u, err := s.GetUser(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusIdle, u.Status)
		assert.Nil(t, u.CurrentRoomID)
	}

	_, err = s.EndRoom(ctx, room.ID, time.Now())
	assert.ErrorIs(t, err, storage.ErrRoomEnded)

	_, err = s.SetKeepActiveResponse(ctx, room.ID, models.SlotUser1, models.VoteYes)
	assert.ErrorIs(t, err, storage.ErrRoomEnded)

	ids, err := s.ActiveRoomIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryStore_EndRoom_KeepsPointerToOtherRoom(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	seedUser(t, s, "alice", models.StatusSearching)
	seedUser(t, s, "bob", models.StatusSearching)
	room := models.NewRoom("alice", "bob", models.SearchChat, time.Now())
	require.NoError(t, s.CreateRoomForPair(ctx, room))

	alice, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	other := "other-room"
	alice.CurrentRoomID = &other
	require.NoError(t, s.SaveUser(ctx, alice))

	_, err = s.EndRoom(ctx, room.ID, time.Now())
	require.NoError(t, err)

	alice, err = s.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, alice.CurrentRoomID)
	assert.Equal(t, other, *alice.CurrentRoomID)
}

func TestMemoryStore_LikeResponsesRaiseRevealLevel(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	seedUser(t, s, "alice", models.StatusSearching)
	seedUser(t, s, "bob", models.StatusSearching)
	room := models.NewRoom("alice", "bob", models.SearchChat, time.Now())
	require.NoError(t, s.CreateRoomForPair(ctx, room))

	for round := 1; round <= 3; round++ {
		r, err := s.SetLikeResponse(ctx, room.ID, models.SlotUser1, models.VoteYes)
		require.NoError(t, err)
		assert.Equal(t, models.VoteYes, r.LikeResponses[models.SlotUser1])

		r, err = s.SetLikeResponse(ctx, room.ID, models.SlotUser2, models.VoteYes)
		require.NoError(t, err)
		assert.Empty(t, r.LikeResponses, "votes reset after a mutual like")
		assert.Equal(t, min(round, 2), r.RevealLevel)
	}

	r, err := s.SetLikeResponse(ctx, room.ID, models.SlotUser1, models.VoteNo)
	require.NoError(t, err)
	assert.Equal(t, 2, r.RevealLevel)
}

func TestMemoryStore_KeepResponsesAndKept(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	seedUser(t, s, "alice", models.StatusSearching)
	seedUser(t, s, "bob", models.StatusSearching)
	room := models.NewRoom("alice", "bob", models.SearchChat, time.Now())
	require.NoError(t, s.CreateRoomForPair(ctx, room))

	r, err := s.SetKeepActiveResponse(ctx, room.ID, models.SlotUser2, models.VoteYes)
	require.NoError(t, err)
	assert.Equal(t, models.VoteYes, r.KeepActiveResponses[models.SlotUser2])

	// Returned rooms are copies.
	r.KeepActiveResponses[models.SlotUser1] = models.VoteNo
	stored, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.KeepActiveResponses, models.SlotUser1)

	require.NoError(t, s.MarkRoomKept(ctx, room.ID))
	stored, err = s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, stored.KeepActive)
	assert.True(t, stored.IsActive())
}

func TestMemoryStore_SaveMessage(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	seedUser(t, s, "alice", models.StatusSearching)
	seedUser(t, s, "bob", models.StatusSearching)
	start := time.Now().Add(-time.Minute)
	room := models.NewRoom("alice", "bob", models.SearchChat, start)
	require.NoError(t, s.CreateRoomForPair(ctx, room))

	msg := &models.ChatHistory{RoomID: room.ID, SenderID: "alice", Content: "hi"}
	require.NoError(t, s.SaveMessage(ctx, msg))
	assert.NotZero(t, msg.ID)
	assert.Equal(t, "text", msg.Type)

	stored, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, stored.LastMessageTime.After(start))
	assert.Len(t, s.Messages(room.ID), 1)

	err = s.SaveMessage(ctx, &models.ChatHistory{RoomID: "missing", SenderID: "alice", Content: "x"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryStore_ExpiredRoomIDs(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	for _, id := range []string{"a", "b", "c", "d"} {
		seedUser(t, s, id, models.StatusSearching)
	}
	old := models.NewRoom("a", "b", models.SearchChat, time.Now().Add(-48*time.Hour))
	fresh := models.NewRoom("c", "d", models.SearchChat, time.Now())
	require.NoError(t, s.CreateRoomForPair(ctx, old))
	require.NoError(t, s.CreateRoomForPair(ctx, fresh))

	ids, err := s.ExpiredRoomIDs(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID}, ids)
}

func TestMemoryStore_Bans(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	seedUser(t, s, "alice", models.StatusIdle)

	banned, err := s.IsUserBanned(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, s.BanUser(ctx, "alice", time.Now().Add(time.Hour)))
	banned, err = s.IsUserBanned(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, banned)

	alice, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, alice.IsBanned(time.Now()))

	require.NoError(t, s.UnbanUser(ctx, "alice"))
	banned, err = s.IsUserBanned(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, banned)

	assert.ErrorIs(t, s.BanUser(ctx, "ghost", time.Now()), storage.ErrNotFound)
}

func TestMemoryStore_SearchQueueOrder(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	now := time.Now()
	require.NoError(t, s.AddToSearchQueue(ctx, models.QueueEntry{UserID: "late", SearchType: models.SearchChat, EnqueuedAt: now}))
	require.NoError(t, s.AddToSearchQueue(ctx, models.QueueEntry{UserID: "early", SearchType: models.SearchVoice, EnqueuedAt: now.Add(-time.Second)}))

	entries, err := s.SearchQueue(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "early", entries[0].UserID)
	assert.Equal(t, "late", entries[1].UserID)

	require.NoError(t, s.RemoveFromSearchQueue(ctx, "early"))
	require.NoError(t, s.RemoveFromSearchQueue(ctx, "early"))
	entries, err = s.SearchQueue(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemoryStore_Icebreaker(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()

	_, err := s.Icebreaker(ctx, "music")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	s.AddIcebreaker("music", "What was the last song you had on repeat?")
	ib, err := s.Icebreaker(ctx, "music")
	require.NoError(t, err)
	assert.Equal(t, "music", ib.Interest)
	assert.NotEmpty(t, ib.Prompt)
}

func TestMemoryStore_GetUserByTelegramID(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	tg := int64(42)
	require.NoError(t, s.SaveUser(ctx, &models.User{TelegramID: &tg, Nickname: "tg"}))

	u, err := s.GetUserByTelegramID(ctx, 42)
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, models.StatusIdle, u.Status)

	_, err = s.GetUserByTelegramID(ctx, 7)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryStore_ResetUser(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	require.NoError(t, s.SaveUser(ctx, &models.User{ID: "carol", Status: models.StatusConnected, CurrentRoomID: lo.ToPtr("old")}))

	require.NoError(t, s.ResetUser(ctx, "carol"))
	u, err := s.GetUser(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, u.Status)
	assert.Nil(t, u.CurrentRoomID)
	assert.ErrorIs(t, s.ResetUser(ctx, "ghost"), storage.ErrNotFound)
}
