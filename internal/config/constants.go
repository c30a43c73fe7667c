package config

import "time"

const (
	// Scoring
	NeedsWeight     = 10.0
	InterestsWeight = 2.0
	BaseScore       = 1.0
	MinMatchScore   = 1.0

	// Lifecycle
	DefaultCountdownSeconds    = 15
	DefaultNotificationSeconds = 30
	DefaultTickInterval        = time.Second
	DefaultCloseDelay          = 500 * time.Millisecond

	// Rooms older than this are swept with reason "expired".
	DefaultRoomMaxAge      = 24 * time.Hour
	DefaultCleanupInterval = 30 * time.Minute
)
