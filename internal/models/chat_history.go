package models

import "gorm.io/gorm"

// ChatHistory is a chat message persisted for a room.
// The embedded gorm.Model provides ID, CreatedAt, UpdatedAt and DeletedAt.
type ChatHistory struct {
	gorm.Model

	RoomID   string `gorm:"type:uuid;not null;index:idx_room_msg"`
	SenderID string `gorm:"type:text;not null;index:idx_room_msg"`
	Content  string `gorm:"type:text;not null"`
	// Type is "text" for now; kept as a column so media messages need no migration.
	Type string `gorm:"type:text;not null;default:text"`
}

// Icebreaker is an opening prompt attached to an interest.
type Icebreaker struct {
	ID       uint   `gorm:"primaryKey"`
	Interest string `gorm:"type:text;not null;index"`
	Prompt   string `gorm:"type:text;not null"`
}
