package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// UserStatus is the matching state of a user.
type UserStatus string

const (
	StatusIdle      UserStatus = "idle"
	StatusSearching UserStatus = "searching"
	StatusConnected UserStatus = "connected"
)

// GenderAll in a preference set accepts every gender.
const GenderAll = "all"

// User is a registered anonymous user together with the preferences used for matching.
type User struct {
	ID         string `gorm:"primaryKey" json:"id"`
	TelegramID *int64 `gorm:"uniqueIndex" json:"-"`
	Nickname   string `json:"nickname"`
	Gender     string `json:"gender"`
	Language   string `json:"-"`

	// PreferredGenders, Needs and Interests are matched as sets.
	PreferredGenders pq.StringArray `gorm:"type:text[]" json:"preferred_genders"`
	Needs            pq.StringArray `gorm:"type:text[]" json:"needs"`
	Interests        pq.StringArray `gorm:"type:text[]" json:"interests"`

	Status        UserStatus `gorm:"type:text;default:idle;index" json:"status"`
	CurrentRoomID *string    `gorm:"index" json:"current_room_id"`
	BannedUntil   *time.Time `json:"-"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// BeforeCreate generates a UUID for the user if ID is not set yet.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// IsProfileComplete reports whether every field required for matching is filled in.
func (u *User) IsProfileComplete() bool {
	return u.Nickname != "" &&
		u.Gender != "" &&
		len(u.PreferredGenders) > 0 &&
		len(u.Needs) > 0 &&
		len(u.Interests) > 0
}

// IsBanned reports whether the ban is still running at now.
func (u *User) IsBanned(now time.Time) bool {
	return u.BannedUntil != nil && u.BannedUntil.After(now)
}

// Accepts reports whether gender is in the user's preference set.
func (u *User) Accepts(gender string) bool {
	return lo.Contains(u.PreferredGenders, GenderAll) || lo.Contains(u.PreferredGenders, gender)
}

// InRoom reports whether the user is pointed at a room.
func (u *User) InRoom() bool {
	return u.CurrentRoomID != nil && *u.CurrentRoomID != ""
}
