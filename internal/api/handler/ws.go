package handler

import (
	"log"
	"net/http"
	"supportchat/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The widget is embedded on storefront domains; tokens gate access.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket is the WebSocket twin of ServeStream: same query, same
// payloads, one JSON event per text frame.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	sub, ok := h.subscribe(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already answered with an HTTP error.
		h.Hub.Unsubscribe(sub)
		log.Printf("ERROR: [WS] Upgrade failed for %s: %v", sub.UserID, err)
		return
	}

	var client chathub.Client = chathub.NewWebSocketClient(conn, h.Hub, sub, h.Stream.IdleTimeout)
	log.Printf("INFO: [WS] %s connected (room %q).", client.GetUserID(), client.GetRoomID())
	client.Run()
}
