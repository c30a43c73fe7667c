// Package storagetest provides a testify mock of storage.Storage for failure injection.
package storagetest

import (
	"context"
	"time"

	"mapmo/backend/internal/models"
	"mapmo/backend/internal/storage"

	"github.com/stretchr/testify/mock"
)

// MockStorage is a testify/mock implementation of storage.Storage.
// Context arguments are passed to Called, so expectations use mock.Anything for them.
type MockStorage struct {
	mock.Mock
}

var _ storage.Storage = (*MockStorage)(nil)

func userOrNil(args mock.Arguments) *models.User {
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*models.User)
}

func roomOrNil(args mock.Arguments) *models.Room {
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*models.Room)
}

func (m *MockStorage) GetUser(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	return userOrNil(args), args.Error(1)
}

func (m *MockStorage) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	args := m.Called(ctx, telegramID)
	return userOrNil(args), args.Error(1)
}

func (m *MockStorage) SaveUser(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockStorage) ResetUser(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockStorage) SetUserStatus(ctx context.Context, userID string, status models.UserStatus) error {
	args := m.Called(ctx, userID, status)
	return args.Error(0)
}

func (m *MockStorage) BanUser(ctx context.Context, userID string, until time.Time) error {
	args := m.Called(ctx, userID, until)
	return args.Error(0)
}

func (m *MockStorage) UnbanUser(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockStorage) IsUserBanned(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	args := m.Called(ctx, roomID)
	return roomOrNil(args), args.Error(1)
}

func (m *MockStorage) ActiveRoomForUser(ctx context.Context, userID string) (*models.Room, error) {
	args := m.Called(ctx, userID)
	return roomOrNil(args), args.Error(1)
}

func (m *MockStorage) ActiveRoomIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStorage) ExpiredRoomIDs(ctx context.Context, startedBefore time.Time) ([]string, error) {
	args := m.Called(ctx, startedBefore)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStorage) CreateRoomForPair(ctx context.Context, room *models.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

func (m *MockStorage) EndRoom(ctx context.Context, roomID string, at time.Time) (*models.Room, error) {
	args := m.Called(ctx, roomID, at)
	return roomOrNil(args), args.Error(1)
}

func (m *MockStorage) SetKeepActiveResponse(ctx context.Context, roomID string, slot models.Slot, vote models.Vote) (*models.Room, error) {
	args := m.Called(ctx, roomID, slot, vote)
	return roomOrNil(args), args.Error(1)
}

func (m *MockStorage) SetLikeResponse(ctx context.Context, roomID string, slot models.Slot, vote models.Vote) (*models.Room, error) {
	args := m.Called(ctx, roomID, slot, vote)
	return roomOrNil(args), args.Error(1)
}

func (m *MockStorage) MarkRoomKept(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

func (m *MockStorage) SaveMessage(ctx context.Context, msg *models.ChatHistory) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockStorage) Icebreaker(ctx context.Context, interest string) (*models.Icebreaker, error) {
	args := m.Called(ctx, interest)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Icebreaker), args.Error(1)
}

func (m *MockStorage) AddToSearchQueue(ctx context.Context, entry models.QueueEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockStorage) RemoveFromSearchQueue(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockStorage) SearchQueue(ctx context.Context) ([]models.QueueEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.QueueEntry), args.Error(1)
}
