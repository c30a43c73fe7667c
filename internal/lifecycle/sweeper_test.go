package lifecycle_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"mapmo/backend/internal/lifecycle"
	"mapmo/backend/internal/models"
	"mapmo/backend/internal/storage"
	"mapmo/backend/internal/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_SweepExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fast(1000, 1000))

	for _, id := range []string{"carol", "dave"} {
		require.NoError(t, f.store.SaveUser(ctx, &models.User{ID: id, Nickname: id, Status: models.StatusSearching}))
	}
	old := models.NewRoom("carol", "dave", models.SearchChat, time.Now().Add(-2*time.Hour))
	require.NoError(t, f.store.CreateRoomForPair(ctx, old))
	require.NoError(t, f.coord.StartCountdown(ctx, old.ID))

	swept, err := f.coord.SweepExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.False(t, f.coord.Has(old.ID))

	ended, err := f.store.GetRoom(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, ended.IsActive())
	assert.True(t, f.storedRoom(t).IsActive(), "fresh room untouched")

	e, ok := f.hub.last(models.EventRoomEnded)
	require.True(t, ok)
	assert.Equal(t, models.ReasonExpired, e.Reason)

	swept, err = f.coord.SweepExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestCoordinator_SweepSkipsConcurrentlyEnded(t *testing.T) {
	ctx := context.Background()
	store := new(storagetest.MockStorage)
	store.On("ExpiredRoomIDs", mock.Anything, mock.Anything).Return([]string{"gone", "broken"}, nil)
	store.On("EndRoom", mock.Anything, "gone", mock.Anything).Return(nil, storage.ErrRoomEnded)
	store.On("EndRoom", mock.Anything, "broken", mock.Anything).Return(nil, errors.New("db down"))

	coord := lifecycle.NewCoordinator(store, newFakeHub(), nil, fast(1, 1), slog.New(slog.DiscardHandler))
	t.Cleanup(coord.Stop)

	swept, err := coord.SweepExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, swept)
	store.AssertExpectations(t)
}
