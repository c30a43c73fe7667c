package chathub

import "errors"

// ErrClientClosed is returned by Client.Send once the transport is gone or its buffer is full.
var ErrClientClosed = errors.New("client connection closed")

// Client is a live, bidirectional connection already bound to a user (WebSocket, Telegram).
// The registry owns every Client it is handed; room membership only references it.
type Client interface {
	// GetUserID returns the identity the connection was authenticated as.
	GetUserID() string
	// Send queues a text payload without blocking. A non-nil error means the handle is dead.
	Send(payload []byte) error
	// IsOpen reports whether the transport can still carry messages.
	IsOpen() bool
	// Close shuts the transport down. Safe to call more than once.
	Close()
}
