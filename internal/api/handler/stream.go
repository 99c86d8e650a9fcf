package handler

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/support"
	"time"

	"github.com/gin-gonic/gin"
)

// subscribe resolves ?global=true or ?roomId= into a hub subscription.
// The global topic is for agents; a room topic needs access to the room.
func (h *Handler) subscribe(c *gin.Context) (*chathub.Subscriber, bool) {
	actor := actorFrom(c)

	var (
		sub *chathub.Subscriber
		err error
	)
	if c.Query("global") == "true" {
		if !actor.IsAgent() {
			respondError(c, support.ErrForbidden)
			return nil, false
		}
		sub, err = h.Hub.SubscribeGlobal(actor.ID, actor.Role)
	} else {
		roomID := c.Query("roomId")
		if roomID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "global=true or roomId is required"})
			return nil, false
		}
		if _, authErr := h.Service.AuthorizeRoom(c.Request.Context(), actor, roomID); authErr != nil {
			respondError(c, authErr)
			return nil, false
		}
		sub, err = h.Hub.SubscribeRoom(roomID, actor.ID, actor.Role)
	}

	if errors.Is(err, chathub.ErrHubClosed) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
		return nil, false
	}
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return sub, true
}

// ServeStream pushes events as Server-Sent Events. Every event is a JSON
// object in a "message" event; comment lines keep proxies from timing out.
func (h *Handler) ServeStream(c *gin.Context) {
	sub, ok := h.subscribe(c)
	if !ok {
		return
	}
	defer h.Hub.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	fmt.Fprint(c.Writer, ": connected\n\n")
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.Stream.Heartbeat)
	defer heartbeat.Stop()
	idle := chathub.NewIdleTimer(h.Stream.IdleTimeout)
	defer idle.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false

		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			if n := sub.TakeDropped(); n > 0 {
				log.Printf("WARN: [SSE] %v", fmt.Errorf("%w: %d events for %s", support.ErrTransportDropped, n, sub.UserID))
				c.SSEvent("message", models.NewResyncEvent(sub.RoomID(), n))
			}
			c.SSEvent("message", ev)
			idle.Reset(h.Stream.IdleTimeout)
			return true

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			return true

		case <-idle.C():
			log.Printf("INFO: [SSE] Closing idle stream %s of %s.", sub.ID, sub.UserID)
			return false
		}
	})
}
