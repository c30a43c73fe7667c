package matching

import "mapmo/backend/internal/errs"

var (
	ErrAlreadyQueued     = errs.New(errs.ErrValidation, "user is already queued")
	ErrProfileIncomplete = errs.New(errs.ErrValidation, "profile is incomplete")
	ErrInvalidSearchType = errs.New(errs.ErrValidation, "unknown search type")
	ErrSelfMatch         = errs.New(errs.ErrValidation, "cannot pair a user with themselves")
	ErrAlreadyInRoom     = errs.New(errs.ErrValidation, "user is already in an active room")
	ErrUserBanned        = errs.New(errs.ErrValidation, "user is banned")
	ErrNotSearching      = errs.New(errs.ErrValidation, "user is not searching")
)
