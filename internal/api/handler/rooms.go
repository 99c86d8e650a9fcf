package handler

import (
	"net/http"
	"strconv"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"
	"supportchat/backend/internal/support"

	"github.com/gin-gonic/gin"
)

type messageRequest struct {
	Body      string `json:"body"`
	Type      string `json:"type"`
	ProductID *uint  `json:"productId"`
}

func (r messageRequest) input() support.MessageInput {
	return support.MessageInput{Body: r.Body, Type: r.Type, ProductID: r.ProductID}
}

type createRoomRequest struct {
	Subject string          `json:"subject"`
	Message *messageRequest `json:"message"`
}

type updateRoomRequest struct {
	Status   *string  `json:"status"`
	Priority *string  `json:"priority"`
	AgentID  *string  `json:"agentId"`
	Tags     []string `json:"tags"`
}

// CreateRoom opens the customer's room with its first message.
func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Message == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	room, msg, err := h.Service.OpenRoom(c.Request.Context(), actorFrom(c), req.Subject, req.Message.input())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": room, "message": msg})
}

// ListRooms accepts status, priority, agentId and q (search) filters.
func (h *Handler) ListRooms(c *gin.Context) {
	filter := storage.RoomFilter{
		Search:  c.Query("q"),
		AgentID: c.Query("agentId"),
	}
	if raw := c.Query("status"); raw != "" {
		status, ok := models.ParseRoomStatus(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + raw})
			return
		}
		filter.Status = status
	}
	if raw := c.Query("priority"); raw != "" {
		priority, ok := models.ParsePriority(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown priority " + raw})
			return
		}
		filter.Priority = priority
	}

	rooms, err := h.Service.ListRooms(c.Request.Context(), actorFrom(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GetRoom returns the room and its history, paginated by afterId and limit.
func (h *Handler) GetRoom(c *gin.Context) {
	var page support.History
	if raw := c.Query("afterId"); raw != "" {
		afterID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "afterId must be a non-negative integer"})
			return
		}
		page.AfterID = uint(afterID)
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		page.Limit = limit
	}

	room, messages, err := h.Service.GetRoomWithHistory(c.Request.Context(), actorFrom(c), c.Param("id"), page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "messages": messages})
}

func (h *Handler) PostMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	msg, err := h.Service.PostMessage(c.Request.Context(), actorFrom(c), c.Param("id"), req.input())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// UpdateRoom changes status, priority, assignment or tags.
func (h *Handler) UpdateRoom(c *gin.Context) {
	var req updateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	patch := support.RoomPatch{AgentID: req.AgentID, Tags: req.Tags}
	if req.Status != nil {
		status, ok := models.ParseRoomStatus(*req.Status)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + *req.Status})
			return
		}
		patch.Status = &status
	}
	if req.Priority != nil {
		priority, ok := models.ParsePriority(*req.Priority)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown priority " + *req.Priority})
			return
		}
		patch.Priority = &priority
	}

	room, err := h.Service.UpdateRoom(c.Request.Context(), actorFrom(c), c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) MarkRead(c *gin.Context) {
	count, err := h.Service.MarkRoomRead(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unreadCount": count})
}

func (h *Handler) Unread(c *gin.Context) {
	total, err := h.Service.UnreadSummary(c.Request.Context(), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total})
}
