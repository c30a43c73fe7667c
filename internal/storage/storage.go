package storage

import (
	"context"
	"time"

	"mapmo/backend/internal/errs"
	"mapmo/backend/internal/models"
)

var (
	// ErrNotFound is returned when a user, room or icebreaker does not exist.
	ErrNotFound = errs.New(errs.ErrNotFound, "record not found")
	// ErrRoomEnded is returned when a mutation targets a room whose endTime is already set.
	ErrRoomEnded = errs.New(errs.ErrStaleState, "room already ended")
	// ErrStatusConflict is returned when a conditional user update found a participant that was no
	// longer in the expected state. The enclosing transaction is rolled back.
	ErrStatusConflict = errs.New(errs.ErrStaleState, "user status changed concurrently")
)

// Storage is the persistence surface consumed by matching, lifecycle and the transports.
type Storage interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	SaveUser(ctx context.Context, user *models.User) error
	// SetUserStatus updates status only, leaving currentRoomId untouched.
	SetUserStatus(ctx context.Context, userID string, status models.UserStatus) error
	// ResetUser sets the user Idle and clears currentRoomId, whatever room it points at.
	ResetUser(ctx context.Context, userID string) error
	BanUser(ctx context.Context, userID string, until time.Time) error
	UnbanUser(ctx context.Context, userID string) error
	IsUserBanned(ctx context.Context, userID string) (bool, error)

	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	ActiveRoomForUser(ctx context.Context, userID string) (*models.Room, error)
	ActiveRoomIDs(ctx context.Context) ([]string, error)
	ExpiredRoomIDs(ctx context.Context, startedBefore time.Time) ([]string, error)

	// CreateRoomForPair inserts the room and moves both participants from Searching to Connected
	// in one transaction. Either everything commits or nothing does.
	CreateRoomForPair(ctx context.Context, room *models.Room) error
	// EndRoom sets endTime and resets both participants to Idle in one transaction.
	EndRoom(ctx context.Context, roomID string, at time.Time) (*models.Room, error)
	SetKeepActiveResponse(ctx context.Context, roomID string, slot models.Slot, vote models.Vote) (*models.Room, error)
	// SetLikeResponse records a like vote. A mutual yes raises the reveal level and clears the votes.
	SetLikeResponse(ctx context.Context, roomID string, slot models.Slot, vote models.Vote) (*models.Room, error)
	MarkRoomKept(ctx context.Context, roomID string) error
	SaveMessage(ctx context.Context, msg *models.ChatHistory) error

	Icebreaker(ctx context.Context, interest string) (*models.Icebreaker, error)

	AddToSearchQueue(ctx context.Context, entry models.QueueEntry) error
	RemoveFromSearchQueue(ctx context.Context, userID string) error
	// SearchQueue returns the mirrored queue ordered by enqueue time.
	SearchQueue(ctx context.Context) ([]models.QueueEntry, error)
}

// applyLike records vote and advances the reveal level on a mutual yes.
func applyLike(room *models.Room, slot models.Slot, vote models.Vote) {
	if room.LikeResponses == nil {
		room.LikeResponses = models.Responses{}
	}
	room.LikeResponses[slot] = vote
	if room.LikeResponses.Both(models.VoteYes) {
		if room.RevealLevel < 2 {
			room.RevealLevel++
		}
		room.LikeResponses = models.Responses{}
	}
}

func applyKeep(room *models.Room, slot models.Slot, vote models.Vote) {
	if room.KeepActiveResponses == nil {
		room.KeepActiveResponses = models.Responses{}
	}
	room.KeepActiveResponses[slot] = vote
}

func queueKey(searchType string) string {
	return "search_queue:" + searchType
}

func banKey(userID string) string {
	return "ban:" + userID
}

var (
	_ Storage = (*Service)(nil)
	_ Storage = (*MemoryStore)(nil)
)
