package handler

import (
	"log/slog"

	"mapmo/backend/internal/chathub"
	"mapmo/backend/internal/lifecycle"
	"mapmo/backend/internal/localization"
	"mapmo/backend/internal/matching"
	"mapmo/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

// Handler exposes the HTTP and WebSocket surface over the core services.
type Handler struct {
	Store       storage.Storage
	Registry    *chathub.Registry
	Queue       *matching.Queue
	Coordinator *lifecycle.Coordinator
	Locales     *localization.Localizer
	Tokens      *TokenIssuer
	Language    string

	logger *slog.Logger
}

func NewHandler(store storage.Storage, registry *chathub.Registry, queue *matching.Queue, coord *lifecycle.Coordinator,
	locales *localization.Localizer, tokens *TokenIssuer, language string, logger *slog.Logger) *Handler {
	return &Handler{
		Store:       store,
		Registry:    registry,
		Queue:       queue,
		Coordinator: coord,
		Locales:     locales,
		Tokens:      tokens,
		Language:    language,
		logger:      logger,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/auth/anon", h.GetAnonID)

	chat := r.Group("/chat", h.AuthRequired())
	chat.PUT("/profile", h.UpdateProfile)
	chat.POST("/search", h.Search)
	chat.POST("/cancel-search", h.CancelSearch)
	chat.POST("/keep/:roomId", h.KeepResponse)
	chat.POST("/like/:roomId", h.LikeResponse)
	chat.POST("/end/:roomId", h.EndRoom)
	chat.GET("/room/:roomId/status", h.RoomStatus)
	chat.GET("/queue/stats", h.QueueStats)

	ws := r.Group("/ws", h.AuthRequired())
	ws.GET("/status", h.ServeStatus)
	ws.GET("/chat/:roomId", h.ServeRoom)
}
