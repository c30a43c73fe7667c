package handler

import (
	"context"
	"net/http"

	"mapmo/backend/internal/lifecycle"
	"mapmo/backend/internal/models"
	"mapmo/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

type searchRequest struct {
	SearchType string `json:"search_type" binding:"required,oneof=chat voice random"`
}

type voteRequest struct {
	Response string `json:"response" binding:"required,oneof=yes no"`
}

// roomFor loads an active room the user participates in. Membership is judged by the room's
// participant ids; the user's currentRoomId is not consulted.
func (h *Handler) roomFor(ctx context.Context, roomID, userID string) (*models.Room, error) {
	room, err := h.Store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(userID) {
		return nil, lifecycle.ErrNotParticipant
	}
	if !room.IsActive() {
		return nil, storage.ErrRoomEnded
	}
	return room, nil
}

// Search queues the caller. The response carries the room when a partner was found at once.
func (h *Handler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, err := h.Queue.Enqueue(c.Request.Context(), currentUser(c), req.SearchType)
	if err != nil {
		h.fail(c, err)
		return
	}
	if room == nil {
		c.JSON(http.StatusAccepted, gin.H{"status": models.StatusSearching})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.StatusConnected, "room": room})
}

func (h *Handler) CancelSearch(c *gin.Context) {
	if err := h.Queue.Dequeue(c.Request.Context(), currentUser(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.StatusIdle})
}

// KeepResponse records the caller's keep-active answer.
func (h *Handler) KeepResponse(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.Coordinator.HandleUserResponse(c.Request.Context(), c.Param("roomId"), currentUser(c), req.Response)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// LikeResponse records a like vote; a mutual yes raises the reveal level.
func (h *Handler) LikeResponse(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	room, err := h.roomFor(ctx, c.Param("roomId"), currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	updated, err := h.like(ctx, room, currentUser(c), models.Vote(req.Response))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reveal_level": updated.RevealLevel, "like_responses": updated.LikeResponses})
}

func (h *Handler) like(ctx context.Context, room *models.Room, userID string, vote models.Vote) (*models.Room, error) {
	slot, ok := room.SlotOf(userID)
	if !ok {
		return nil, lifecycle.ErrNotParticipant
	}
	if !vote.Valid() {
		return nil, lifecycle.ErrInvalidResponse
	}
	updated, err := h.Store.SetLikeResponse(ctx, room.ID, slot, vote)
	if err != nil {
		return nil, err
	}

	event := models.Event{
		Type:        models.EventLikeResponse,
		RoomID:      room.ID,
		SenderID:    userID,
		Response:    vote,
		RevealLevel: models.IntPtr(updated.RevealLevel),
	}
	if updated.RevealLevel > room.RevealLevel {
		event.Message = h.Locales.GetString(h.Language, "like_mutual")
	}
	if err := h.Registry.BroadcastToRoom(ctx, room.ID, event, ""); err != nil {
		h.logger.Debug("like broadcast not delivered", "room_id", room.ID, "err", err)
	}
	return updated, nil
}

// EndRoom closes the room at the caller's request.
func (h *Handler) EndRoom(c *gin.Context) {
	ctx := c.Request.Context()
	room, err := h.roomFor(ctx, c.Param("roomId"), currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ended, err := h.Coordinator.EndRoom(ctx, room.ID, models.ReasonUserEnded)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("room ended by user", "room_id", room.ID, "user_id", currentUser(c))
	c.JSON(http.StatusOK, gin.H{"room": ended})
}

// RoomStatus returns the stored room with its lifecycle snapshot. Ended rooms stay readable by
// their participants.
func (h *Handler) RoomStatus(c *gin.Context) {
	ctx := c.Request.Context()
	room, err := h.Store.GetRoom(ctx, c.Param("roomId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !room.HasParticipant(currentUser(c)) {
		h.fail(c, lifecycle.ErrNotParticipant)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room":      room,
		"active":    room.IsActive(),
		"lifecycle": h.Coordinator.GetStatus(room.ID),
	})
}

func (h *Handler) QueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Queue.Stats())
}
