package handler

import (
	"errors"
	"log"
	"net/http"
	"supportchat/backend/internal/support"

	"github.com/gin-gonic/gin"
)

// respondError maps service errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var dup *support.DuplicateRoomError
	switch {
	case errors.As(err, &dup):
		c.JSON(http.StatusConflict, gin.H{"error": support.ErrDuplicateActiveRoom.Error(), "roomId": dup.RoomID})
	case errors.Is(err, support.ErrDuplicateActiveRoom):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, support.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, support.ErrForbidden), errors.Is(err, support.ErrRoomClosed):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, support.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, support.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		log.Printf("ERROR: [API] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
