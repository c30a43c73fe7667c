package models

import "time"

// Search types a user can queue for. Matching only pairs users with the same type.
const (
	SearchChat   = "chat"
	SearchVoice  = "voice"
	SearchRandom = "random"
)

// SearchTypes lists every accepted search type in display order.
var SearchTypes = []string{SearchChat, SearchVoice, SearchRandom}

// QueueEntry represents one waiting user. At most one entry exists per user.
type QueueEntry struct {
	UserID     string    `json:"user_id"`
	SearchType string    `json:"search_type"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// QueueStats is the per search type count of waiting users.
type QueueStats struct {
	Total  int            `json:"total"`
	ByType map[string]int `json:"by_type"`
}
