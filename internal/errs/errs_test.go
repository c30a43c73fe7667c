package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"mapmo/backend/internal/errs"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	queued := errs.New(errs.ErrValidation, "already queued")
	wrapped := fmt.Errorf("enqueue u1: %w", queued)

	assert.ErrorIs(t, wrapped, queued)
	assert.Equal(t, errs.ErrValidation, errs.Kind(wrapped))
	assert.Equal(t, errs.ErrNotFound, errs.Kind(errs.New(errs.ErrNotFound, "room")))
	assert.Equal(t, errs.ErrStaleState, errs.Kind(errs.New(errs.ErrStaleState, "phase")))
	assert.Nil(t, errs.Kind(errors.New("db down")))
}
