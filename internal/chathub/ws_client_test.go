package chathub_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/models"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startWSServer upgrades every request into a room subscription. before runs
// after subscribing and before the pumps start.
func startWSServer(t *testing.T, hub *chathub.ManagerService, idle time.Duration, before func()) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sub, err := hub.SubscribeRoom("r1", "cust-1", models.RoleCustomer)
		if err != nil {
			conn.Close()
			return
		}
		if before != nil {
			before()
		}
		chathub.NewWebSocketClient(conn, hub, sub, idle).Run()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev models.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestWebSocketClient_ForwardsEvents(t *testing.T) {
	hub := chathub.NewManagerService(8)
	srv := startWSServer(t, hub, 0, nil)
	conn := dial(t, srv)

	require.Eventually(t, func() bool { return hub.RoomSubscribers("r1") == 1 }, time.Second, 10*time.Millisecond)
	hub.Publish(context.Background(), chathub.RoomTopic("r1"), models.Event{Type: models.EventNewMessage, RoomID: "r1", Message: &models.ChatMessage{ID: 3, Body: "hi"}})

	ev := readEvent(t, conn)
	assert.Equal(t, models.EventNewMessage, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "hi", ev.Message.Body)
}

func TestWebSocketClient_ResyncAfterOverflow(t *testing.T) {
	hub := chathub.NewManagerService(2)
	srv := startWSServer(t, hub, 0, func() {
		for id := uint(1); id <= 4; id++ {
			hub.Publish(context.Background(), chathub.RoomTopic("r1"), preview("r1", id))
		}
	})
	conn := dial(t, srv)

	resync := readEvent(t, conn)
	assert.Equal(t, models.EventResync, resync.Type)
	assert.Equal(t, "r1", resync.RoomID)
	assert.Equal(t, uint64(2), resync.Dropped)

	assert.Equal(t, uint(3), readEvent(t, conn).MessageID)
	assert.Equal(t, uint(4), readEvent(t, conn).MessageID)
}

func TestWebSocketClient_DisconnectUnsubscribes(t *testing.T) {
	hub := chathub.NewManagerService(8)
	srv := startWSServer(t, hub, 0, nil)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.RoomSubscribers("r1") == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()

	assert.Eventually(t, func() bool { return hub.RoomTopics() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketClient_ClosedOnShutdown(t *testing.T) {
	hub := chathub.NewManagerService(8)
	srv := startWSServer(t, hub, 0, nil)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.RoomSubscribers("r1") == 1 }, time.Second, 10*time.Millisecond)

	hub.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestWebSocketClient_IdleTimeout(t *testing.T) {
	hub := chathub.NewManagerService(8)
	srv := startWSServer(t, hub, 50*time.Millisecond, nil)
	conn := dial(t, srv)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Eventually(t, func() bool { return hub.RoomTopics() == 0 }, 2*time.Second, 10*time.Millisecond)
}
