package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"mapmo/backend/internal/chathub"
	"mapmo/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Any origin is accepted; tokens are the access control.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const frameTimeout = 5 * time.Second

// ServeStatus upgrades to the user's general channel, used for match_found and personal prompts.
func (h *Handler) ServeStatus(c *gin.Context) {
	userID := currentUser(c)
	user, err := h.Store.GetUser(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "err", err)
		return
	}

	client := chathub.NewWebSocketClient(userID, conn, h.statusFrame, func(wc *chathub.WebSocketClient) {
		h.Registry.Disconnect(wc.UserID, wc)
	}, h.logger)
	h.Registry.Connect(userID, client)
	client.Run()

	h.sendEvent(client, models.Event{Type: models.EventStatusUpdate, Message: string(user.Status)})
}

func (h *Handler) statusFrame(c *chathub.WebSocketClient, frame models.ClientFrame) {
	if frame.Type == models.EventHeartbeat {
		h.sendEvent(c, models.Event{Type: models.EventHeartbeat, Timestamp: lo.ToPtr(time.Now())})
	}
}

// ServeRoom upgrades to a room connection. Only a participant of an active room may connect.
func (h *Handler) ServeRoom(c *gin.Context) {
	userID := currentUser(c)
	ctx := c.Request.Context()
	room, err := h.roomFor(ctx, c.Param("roomId"), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "room_id", room.ID, "user_id", userID, "err", err)
		return
	}

	roomID := room.ID
	client := chathub.NewWebSocketClient(userID, conn, func(wc *chathub.WebSocketClient, frame models.ClientFrame) {
		h.roomFrame(roomID, wc, frame)
	}, func(wc *chathub.WebSocketClient) {
		if err := h.Registry.LeaveRoomHandle(context.Background(), roomID, wc); err != nil {
			h.logger.Debug("leave on close", "room_id", roomID, "user_id", wc.UserID, "err", err)
		}
	}, h.logger)

	// The request context ends with the upgrade; the join must not depend on it.
	joinCtx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	ok, err := h.Registry.JoinRoom(joinCtx, roomID, userID, client)
	if err != nil || !ok {
		client.Run()
		h.sendEvent(client, models.Event{Type: models.EventError, RoomID: roomID, Message: "already connected to a room"})
		client.Close()
		return
	}
	client.Run()
	h.maybeStartCountdown(joinCtx, room)
}

func (h *Handler) maybeStartCountdown(ctx context.Context, room *models.Room) {
	members, err := h.Registry.Members(ctx, room.ID)
	if err != nil {
		return
	}
	if _, err := h.Coordinator.StartWhenJoined(ctx, room, members); err != nil {
		h.logger.Warn("start countdown", "room_id", room.ID, "err", err)
	}
}

func (h *Handler) roomFrame(roomID string, c *chathub.WebSocketClient, frame models.ClientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	userID := c.UserID

	switch frame.Type {
	case models.EventMessage:
		if frame.Content == "" {
			return
		}
		msg := &models.ChatHistory{RoomID: roomID, SenderID: userID, Content: frame.Content, Type: "text"}
		if err := h.Store.SaveMessage(ctx, msg); err != nil {
			h.frameError(c, roomID, err)
			return
		}
		h.broadcast(ctx, roomID, models.Event{
			Type:      models.EventMessage,
			RoomID:    roomID,
			SenderID:  userID,
			Content:   msg.Content,
			Timestamp: lo.ToPtr(msg.CreatedAt),
		}, "")

	case models.EventTyping, models.EventStopTyping:
		h.broadcast(ctx, roomID, models.Event{Type: frame.Type, RoomID: roomID, SenderID: userID}, userID)

	case models.EventLikeResponse:
		room, err := h.roomFor(ctx, roomID, userID)
		if err == nil {
			_, err = h.like(ctx, room, userID, frame.Response)
		}
		if err != nil {
			h.frameError(c, roomID, err)
		}

	case models.EventKeepResponse:
		if _, err := h.Coordinator.HandleUserResponse(ctx, roomID, userID, string(frame.Response)); err != nil {
			h.frameError(c, roomID, err)
		}

	case models.EventHeartbeat:
		h.sendEvent(c, models.Event{Type: models.EventHeartbeat, RoomID: roomID, Timestamp: lo.ToPtr(time.Now())})

	default:
		h.logger.Debug("unknown frame", "room_id", roomID, "user_id", userID, "type", frame.Type)
	}
}

func (h *Handler) broadcast(ctx context.Context, roomID string, e models.Event, exclude string) {
	if err := h.Registry.BroadcastToRoom(ctx, roomID, e, exclude); err != nil && !chathub.IsCancelled(err) {
		h.logger.Warn("room broadcast failed", "room_id", roomID, "type", e.Type, "err", err)
	}
}

func (h *Handler) frameError(c chathub.Client, roomID string, err error) {
	h.logger.Info("frame rejected", "room_id", roomID, "user_id", c.GetUserID(), "err", err)
	h.sendEvent(c, models.Event{Type: models.EventError, RoomID: roomID, Message: err.Error()})
}

func (h *Handler) sendEvent(c chathub.Client, e models.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := c.Send(payload); err != nil {
		h.logger.Debug("direct send failed", "user_id", c.GetUserID(), "err", err)
	}
}
