package models

import "time"

// Event types sent to clients.
const (
	EventCountdownStart     = "countdown_start"
	EventCountdownUpdate    = "countdown_update"
	EventNotificationShow   = "notification_show"
	EventNotificationUpdate = "notification_update"
	EventRoomKept           = "room_kept"
	EventRoomEnded          = "room_ended"
	EventRoomClosed         = "room_closed"
	EventWaitingForOther    = "waiting_for_other"
	EventMatchFound         = "match_found"
	EventMessage            = "message"
	EventTyping             = "typing"
	EventStopTyping         = "stop_typing"
	EventLikeResponse       = "like_response"
	EventKeepResponse       = "keep_response"
	EventHeartbeat          = "heartbeat"
	EventStatusUpdate       = "status_update"
	EventError              = "error"
)

// End reasons carried by room_ended.
const (
	ReasonUserDislike = "user_dislike"
	ReasonTimeout     = "timeout"
	ReasonUserEnded   = "user_ended"
	ReasonExpired     = "expired"
)

// Event is the JSON payload pushed to a client. Only the fields relevant to Type are set.
type Event struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id,omitempty"`

	DurationSeconds int  `json:"duration_seconds,omitempty"`
	TimeoutSeconds  int  `json:"timeout_seconds,omitempty"`
	Remaining       *int `json:"remaining,omitempty"`

	Reason        string   `json:"reason,omitempty"`
	Message       string   `json:"message,omitempty"`
	UsersToNotify []string `json:"users_to_notify,omitempty"`

	MatchedUser *MatchedUser `json:"matched_user,omitempty"`
	Icebreaker  string       `json:"icebreaker,omitempty"`

	SenderID    string     `json:"sender_id,omitempty"`
	Content     string     `json:"content,omitempty"`
	Response    Vote       `json:"response,omitempty"`
	RevealLevel *int       `json:"reveal_level,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// MatchedUser is the partner summary sent with match_found. Detail is gated by reveal level,
// so only the blurred fields are included.
type MatchedUser struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname,omitempty"`
	Gender   string `json:"gender,omitempty"`
}

// ClientFrame is an inbound frame read from a room connection.
type ClientFrame struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	Response Vote   `json:"response,omitempty"`
}

// IntPtr is a small helper for optional counters in events.
func IntPtr(v int) *int { return &v }
