package handler

import (
	"errors"
	"net/http"

	"mapmo/backend/internal/chathub"
	"mapmo/backend/internal/errs"
	"mapmo/backend/internal/lifecycle"
	"mapmo/backend/internal/matching"

	"github.com/gin-gonic/gin"
)

// statusFor maps an error onto an HTTP status by its kind.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, matching.ErrAlreadyQueued), errors.Is(err, matching.ErrAlreadyInRoom):
		return http.StatusConflict
	case chathub.IsCancelled(err):
		return http.StatusServiceUnavailable
	}
	switch errs.Kind(err) {
	case errs.ErrValidation:
		return http.StatusBadRequest
	case errs.ErrNotFound:
		return http.StatusNotFound
	case errs.ErrStaleState:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && !chathub.IsCancelled(err) {
		h.logger.Error("request failed", "path", c.FullPath(), "user_id", currentUser(c), "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
