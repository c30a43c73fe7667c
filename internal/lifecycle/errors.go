package lifecycle

import "mapmo/backend/internal/errs"

var (
	ErrRoomNotFound    = errs.New(errs.ErrNotFound, "no lifecycle for room")
	ErrWrongPhase      = errs.New(errs.ErrStaleState, "lifecycle is not in the notification phase")
	ErrInvalidResponse = errs.New(errs.ErrValidation, "response must be yes or no")
	ErrNotParticipant  = errs.New(errs.ErrValidation, "user is not a participant of the room")
)
