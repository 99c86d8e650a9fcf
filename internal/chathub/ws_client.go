package chathub

import (
	"encoding/json"
	"fmt"
	"log"
	"supportchat/backend/internal/models"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// WebSocketClient implements Client over gorilla/websocket. The socket is
// push-only: inbound frames are read solely to process pongs and closes.
type WebSocketClient struct {
	Conn *websocket.Conn
	Hub  *ManagerService
	Sub  *Subscriber

	// IdleTimeout closes the connection after this long without events; zero disables it.
	IdleTimeout time.Duration

	closeOnce sync.Once
}

func NewWebSocketClient(conn *websocket.Conn, hub *ManagerService, sub *Subscriber, idle time.Duration) *WebSocketClient {
	return &WebSocketClient{Conn: conn, Hub: hub, Sub: sub, IdleTimeout: idle}
}

func (c *WebSocketClient) GetUserID() string { return c.Sub.UserID }
func (c *WebSocketClient) GetRoomID() string { return c.Sub.RoomID() }

// Run starts the pumps for the WebSocket.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close unregisters the subscription, which in turn stops writePump.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() {
		c.Hub.Unsubscribe(c.Sub)
	})
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Close()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ERROR: [WS] Unexpected close for %s: %v", c.Sub.UserID, err)
			}
			return
		}
	}
}

// writePump forwards subscriber events to the socket, one JSON object per frame.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	idle := NewIdleTimer(c.IdleTimeout)

	defer func() {
		ticker.Stop()
		idle.Stop()
		c.Close()
		c.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.Sub.Events():
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Subscription closed by the hub (shutdown or unsubscribe).
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if n := c.Sub.TakeDropped(); n > 0 {
				log.Printf("WARN: [WS] %v", fmt.Errorf("%w: %d events for %s", ErrTransportDropped, n, c.Sub.UserID))
				if err := c.writeEvent(models.NewResyncEvent(c.Sub.RoomID(), n)); err != nil {
					return
				}
			}
			if err := c.writeEvent(ev); err != nil {
				return
			}
			idle.Reset(c.IdleTimeout)

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-idle.C():
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "idle timeout"))
			return
		}
	}
}

func (c *WebSocketClient) writeEvent(ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Error encoding JSON for client %s: %v", c.Sub.UserID, err)
		return nil
	}
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}
