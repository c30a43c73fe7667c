// Package errs defines the error kinds shared by the matching, storage and lifecycle packages.
// Domain errors wrap one of these kinds, so a caller can branch on the kind with errors.Is
// without knowing every concrete error.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a rejected request that caused no state mutation. Safe to retry.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing room, user or lifecycle.
	ErrNotFound = errors.New("not found")
	// ErrStaleState marks a request that raced with another transition (room already ended,
	// lifecycle in another phase). Callers should resync before retrying.
	ErrStaleState = errors.New("stale state")
)

// New returns an error of the given kind with a message.
func New(kind error, msg string) error {
	return fmt.Errorf("%w: %s", kind, msg)
}

// Kind reports which of the package kinds err belongs to, or nil.
func Kind(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return ErrValidation
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrStaleState):
		return ErrStaleState
	}
	return nil
}
