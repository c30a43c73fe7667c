package models

import (
	"time"

	"github.com/google/uuid"
)

// Slot is the id-ordered label of a participant, used as key in response maps.
type Slot string

const (
	SlotUser1 Slot = "user1"
	SlotUser2 Slot = "user2"
)

// Vote is a yes/no answer to a like or keep-active prompt.
type Vote string

const (
	VoteYes Vote = "yes"
	VoteNo  Vote = "no"
)

// Valid reports whether v is one of the two accepted answers.
func (v Vote) Valid() bool {
	return v == VoteYes || v == VoteNo
}

// Responses maps a participant slot to their answer.
type Responses map[Slot]Vote

// Both reports whether both slots answered v.
func (r Responses) Both(v Vote) bool {
	return r[SlotUser1] == v && r[SlotUser2] == v
}

// Any reports whether at least one slot answered v.
func (r Responses) Any(v Vote) bool {
	return r[SlotUser1] == v || r[SlotUser2] == v
}

// Room is the persisted record of a two-party chat session. A room is active until EndTime is set;
// rooms are closed, never deleted.
type Room struct {
	ID      string `gorm:"primaryKey" json:"room_id"`
	Type    string `gorm:"type:text;not null;default:chat" json:"type"`
	User1ID string `gorm:"not null;index" json:"user1_id"`
	User2ID string `gorm:"not null;index" json:"user2_id"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `gorm:"index" json:"end_time"`

	// RevealLevel: 0 blurred, 1 partial, 2 full profile.
	RevealLevel         int       `gorm:"default:0" json:"reveal_level"`
	KeepActive          bool      `gorm:"default:false" json:"keep_active"`
	LikeResponses       Responses `gorm:"serializer:json" json:"like_responses"`
	KeepActiveResponses Responses `gorm:"serializer:json" json:"keep_active_responses"`
	LastMessageTime     time.Time `json:"last_message_time"`

	CreatedAt time.Time `json:"created_at"`
}

// NewRoom builds an active room for a pair. The lower user id always takes slot user1.
func NewRoom(userA, userB, roomType string, now time.Time) *Room {
	user1, user2 := userA, userB
	if user2 < user1 {
		user1, user2 = user2, user1
	}
	return &Room{
		ID:                  uuid.New().String(),
		Type:                roomType,
		User1ID:             user1,
		User2ID:             user2,
		StartTime:           now,
		LastMessageTime:     now,
		LikeResponses:       Responses{},
		KeepActiveResponses: Responses{},
		CreatedAt:           now,
	}
}

// IsActive reports whether the room has not been ended.
func (r *Room) IsActive() bool {
	return r.EndTime == nil
}

// SlotOf returns the slot of userID, or false if the user is not a participant.
func (r *Room) SlotOf(userID string) (Slot, bool) {
	switch userID {
	case r.User1ID:
		return SlotUser1, true
	case r.User2ID:
		return SlotUser2, true
	}
	return "", false
}

// HasParticipant reports whether userID is one of the two members.
func (r *Room) HasParticipant(userID string) bool {
	_, ok := r.SlotOf(userID)
	return ok
}

// PartnerOf returns the other participant's id, or "" when userID is not in the room.
func (r *Room) PartnerOf(userID string) string {
	switch userID {
	case r.User1ID:
		return r.User2ID
	case r.User2ID:
		return r.User1ID
	}
	return ""
}

// UserIDs returns both participants in slot order.
func (r *Room) UserIDs() []string {
	return []string{r.User1ID, r.User2ID}
}

// UserInSlot returns the participant holding slot.
func (r *Room) UserInSlot(slot Slot) string {
	if slot == SlotUser1 {
		return r.User1ID
	}
	return r.User2ID
}
