package storage_test

import (
	"context"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoom(customerID, subject string) *models.ChatRoom {
	return &models.ChatRoom{
		CustomerID:   customerID,
		Subject:      subject,
		Status:       models.RoomOpen,
		Priority:     models.PriorityNormal,
		LastActivity: time.Now().UTC(),
	}
}

func TestMemory_OneActiveRoomPerCustomer(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()

	first := newRoom("cust-1", "first")
	require.NoError(t, m.CreateRoom(ctx, first))

	err := m.CreateRoom(ctx, newRoom("cust-1", "second"))
	assert.ErrorIs(t, err, storage.ErrDuplicateActiveRoom)

	closed := models.RoomClosed
	_, err = m.UpdateRoom(ctx, first.RoomID, storage.RoomUpdate{Status: &closed})
	require.NoError(t, err)

	second := newRoom("cust-1", "second")
	assert.NoError(t, m.CreateRoom(ctx, second), "a closed room frees the slot")

	open := models.RoomOpen
	_, err = m.UpdateRoom(ctx, first.RoomID, storage.RoomUpdate{Status: &open})
	assert.ErrorIs(t, err, storage.ErrDuplicateActiveRoom, "reopening must not create a second active room")

	active, err := m.FindActiveRoom(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, second.RoomID, active.RoomID)
}

func TestMemory_AppendMessage(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	room := newRoom("cust-1", "order")
	require.NoError(t, m.CreateRoom(ctx, room))

	var lastID uint
	for i, role := range []models.Role{models.RoleCustomer, models.RoleCustomer, models.RoleAgent} {
		msg := &models.ChatMessage{RoomID: room.RoomID, SenderID: "x", SenderRole: role, Body: "m", Type: models.MessageText}
		updated, err := m.AppendMessage(ctx, msg, "m")
		require.NoError(t, err)
		assert.Greater(t, msg.ID, lastID, "ids must increase (message %d)", i)
		lastID = msg.ID
		assert.Equal(t, msg.ID, updated.LastMessageID)
		assert.Equal(t, msg.CreatedAt, updated.LastActivity)
	}

	stored, err := m.GetRoom(ctx, room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.AgentUnread)
	assert.Equal(t, 1, stored.CustomerUnread)
}

func TestMemory_AppendMessage_ClampsTimestamp(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	room := newRoom("cust-1", "")
	room.LastActivity = time.Now().UTC().Add(time.Hour)
	require.NoError(t, m.CreateRoom(ctx, room))

	msg := &models.ChatMessage{RoomID: room.RoomID, SenderRole: models.RoleCustomer, Body: "hi", CreatedAt: time.Now().UTC()}
	updated, err := m.AppendMessage(ctx, msg, "hi")

	require.NoError(t, err)
	assert.Equal(t, room.LastActivity, msg.CreatedAt)
	assert.Equal(t, room.LastActivity, updated.LastActivity)
}

func TestMemory_ListMessagesAfter(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	room := newRoom("cust-1", "")
	require.NoError(t, m.CreateRoom(ctx, room))
	for i := 0; i < 5; i++ {
		_, err := m.AppendMessage(ctx, &models.ChatMessage{RoomID: room.RoomID, SenderRole: models.RoleCustomer, Body: "m"}, "m")
		require.NoError(t, err)
	}

	msgs, err := m.ListMessages(ctx, room.RoomID, 2, 2)

	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, uint(3), msgs[0].ID)
	assert.Equal(t, uint(4), msgs[1].ID)
}

func TestMemory_ListMessagesWithoutLimit(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	room := newRoom("cust-1", "")
	require.NoError(t, m.CreateRoom(ctx, room))
	for i := 0; i < 300; i++ {
		_, err := m.AppendMessage(ctx, &models.ChatMessage{RoomID: room.RoomID, SenderRole: models.RoleCustomer, Body: "m"}, "m")
		require.NoError(t, err)
	}

	msgs, err := m.ListMessages(ctx, room.RoomID, 0, 0)

	require.NoError(t, err)
	require.Len(t, msgs, 300)
	assert.Equal(t, uint(300), msgs[299].ID)
}

func TestMemory_OpenRoomStoresFirstMessage(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()

	room := newRoom("cust-1", "order")
	first := &models.ChatMessage{SenderID: "cust-1", SenderRole: models.RoleCustomer, Body: "hi", Type: models.MessageText}
	opened, err := m.OpenRoom(ctx, room, first, "hi")

	require.NoError(t, err)
	assert.NotEmpty(t, opened.RoomID)
	assert.Equal(t, opened.RoomID, first.RoomID)
	assert.Equal(t, first.ID, opened.LastMessageID)
	assert.Equal(t, 1, opened.AgentUnread)
	assert.Equal(t, first.CreatedAt, opened.LastActivity)

	_, err = m.OpenRoom(ctx, newRoom("cust-1", "again"), &models.ChatMessage{SenderRole: models.RoleCustomer, Body: "again"}, "again")
	assert.ErrorIs(t, err, storage.ErrDuplicateActiveRoom)
	msgs, err := m.ListMessages(ctx, opened.RoomID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestMemory_SaveUserRefreshesProfile(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	require.NoError(t, m.SaveUser(ctx, &models.User{ID: "cust-1", Name: "Ada", Email: "ada@example.com", Role: models.RoleCustomer}))
	require.NoError(t, m.CreateRoom(ctx, newRoom("cust-1", "")))

	require.NoError(t, m.SaveUser(ctx, &models.User{ID: "cust-1", Name: "Ada Lovelace", Role: models.RoleAgent}))

	rooms, err := m.ListRooms(ctx, storage.RoomFilter{Search: "lovelace"})
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "ada@example.com", rooms[0].Customer.Email, "an empty email keeps the stored one")
	assert.Equal(t, models.RoleCustomer, rooms[0].Customer.Role)
}

func TestMemory_ListRooms(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	require.NoError(t, m.SaveUser(ctx, &models.User{ID: "cust-1", Name: "Ada Lovelace", Email: "ada@example.com", Role: models.RoleCustomer}))
	require.NoError(t, m.SaveUser(ctx, &models.User{ID: "cust-2", Name: "Alan", Email: "alan@example.com", Role: models.RoleCustomer}))

	older := newRoom("cust-1", "Refund")
	older.LastActivity = time.Now().UTC().Add(-time.Hour)
	newer := newRoom("cust-2", "Need help with order #123")
	newer.Priority = models.PriorityUrgent
	require.NoError(t, m.CreateRoom(ctx, older))
	require.NoError(t, m.CreateRoom(ctx, newer))

	all, err := m.ListRooms(ctx, storage.RoomFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.RoomID, all[0].RoomID, "most recent activity first")
	require.NotNil(t, all[1].Customer)
	assert.Equal(t, "Ada Lovelace", all[1].Customer.Name)

	byEmail, _ := m.ListRooms(ctx, storage.RoomFilter{Search: "ADA@"})
	require.Len(t, byEmail, 1)
	assert.Equal(t, older.RoomID, byEmail[0].RoomID)

	bySubject, _ := m.ListRooms(ctx, storage.RoomFilter{Search: "#123"})
	require.Len(t, bySubject, 1)

	urgent, _ := m.ListRooms(ctx, storage.RoomFilter{Priority: models.PriorityUrgent})
	require.Len(t, urgent, 1)
	assert.Equal(t, newer.RoomID, urgent[0].RoomID)

	mine, _ := m.ListRooms(ctx, storage.RoomFilter{CustomerID: "cust-1"})
	require.Len(t, mine, 1)
}

func TestMemory_MarkReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	room := newRoom("cust-1", "")
	require.NoError(t, m.CreateRoom(ctx, room))
	_, err := m.AppendMessage(ctx, &models.ChatMessage{RoomID: room.RoomID, SenderRole: models.RoleCustomer, Body: "?"}, "?")
	require.NoError(t, err)

	updated, changed, err := m.MarkRead(ctx, room.RoomID, models.RoleAgent)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, updated.AgentUnread)
	assert.Equal(t, updated.LastMessageID, updated.AgentReadUpTo)

	again, changed, err := m.MarkRead(ctx, room.RoomID, models.RoleAgent)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0, again.AgentUnread)

	_, _, err = m.MarkRead(ctx, "missing", models.RoleAgent)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemory_UnreadTotal(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	a := newRoom("cust-1", "")
	b := newRoom("cust-2", "")
	require.NoError(t, m.CreateRoom(ctx, a))
	require.NoError(t, m.CreateRoom(ctx, b))
	for _, id := range []string{a.RoomID, a.RoomID, b.RoomID} {
		_, err := m.AppendMessage(ctx, &models.ChatMessage{RoomID: id, SenderRole: models.RoleCustomer, Body: "x"}, "x")
		require.NoError(t, err)
	}
	_, err := m.AppendMessage(ctx, &models.ChatMessage{RoomID: b.RoomID, SenderRole: models.RoleAgent, Body: "y"}, "y")
	require.NoError(t, err)

	agentTotal, _ := m.UnreadTotal(ctx, models.RoleAgent, "agent-1")
	assert.Equal(t, 3, agentTotal)

	customerTotal, _ := m.UnreadTotal(ctx, models.RoleCustomer, "cust-2")
	assert.Equal(t, 1, customerTotal)
}

func TestMemory_GetProduct(t *testing.T) {
	m := storage.NewMemory()
	m.AddProduct(models.Product{ID: 7, Name: "Kettle"})

	p, err := m.GetProduct(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Kettle", p.Name)

	_, err = m.GetProduct(context.Background(), 8)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
