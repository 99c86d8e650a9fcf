package handler

import (
	"net/http"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/support"
	"time"

	"github.com/gin-gonic/gin"
)

// StreamSettings tunes the SSE and WebSocket endpoints.
type StreamSettings struct {
	Heartbeat   time.Duration
	IdleTimeout time.Duration
}

// Handler holds the dependencies of the HTTP API.
type Handler struct {
	Service *support.Service
	Hub     *chathub.ManagerService
	Auth    *Authenticator
	Stream  StreamSettings
}

func NewHandler(service *support.Service, hub *chathub.ManagerService, auth *Authenticator, stream StreamSettings) *Handler {
	if stream.Heartbeat <= 0 {
		stream.Heartbeat = config.DefaultHeartbeatPeriod
	}
	return &Handler{Service: service, Hub: hub, Auth: auth, Stream: stream}
}

// RegisterRoutes mounts the chat API on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", h.Health)
	r.GET("/guest", h.GetGuestToken)

	api := r.Group("/", h.RequireAuth())
	{
		api.POST("/rooms", RequireRoles(models.RoleCustomer), h.CreateRoom)
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id", h.GetRoom)
		api.PATCH("/rooms/:id", RequireRoles(models.RoleAgent), h.UpdateRoom)
		api.POST("/rooms/:id/messages", h.PostMessage)
		api.POST("/rooms/:id/read", h.MarkRead)
		api.GET("/unread", h.Unread)

		api.GET("/stream", h.ServeStream)
		api.GET("/ws", h.ServeWebSocket)
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"globalSubscribers": h.Hub.GlobalSubscribers(),
		"roomTopics":        h.Hub.RoomTopics(),
	})
}
