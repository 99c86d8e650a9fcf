package support_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"
	"supportchat/backend/internal/support"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	customer = support.Actor{ID: "cust-1", Name: "Olena", Email: "olena@example.com", Role: models.RoleCustomer}
	stranger = support.Actor{ID: "cust-2", Role: models.RoleCustomer}
	agent    = support.Actor{ID: "agent-1", Name: "Sam", Role: models.RoleAgent}
)

type fixture struct {
	store *storage.Memory
	hub   *chathub.ManagerService
	svc   *support.Service
}

func newFixture(t *testing.T, opts ...support.Option) *fixture {
	t.Helper()
	store := storage.NewMemory()
	hub := chathub.NewManagerService(64)
	t.Cleanup(hub.Close)
	f := &fixture{store: store, hub: hub, svc: support.NewService(store, hub, opts...)}
	require.NoError(t, f.svc.RegisterParticipant(context.Background(), customer))
	require.NoError(t, f.svc.RegisterParticipant(context.Background(), agent))
	return f
}

func (f *fixture) openRoom(t *testing.T, subject, first string) *models.ChatRoom {
	t.Helper()
	ctx := context.Background()
	room, err := f.svc.CreateRoom(ctx, customer, subject)
	require.NoError(t, err)
	if first != "" {
		_, err = f.svc.PostMessage(ctx, customer, room.RoomID, support.MessageInput{Body: first})
		require.NoError(t, err)
	}
	return room
}

func next(t *testing.T, sub *chathub.Subscriber) models.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return models.Event{}
}

func noMore(t *testing.T, sub *chathub.Subscriber) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestScenario_CustomerOpensAgentReadsAndReplies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Customer opens a room with a first message.
	room := f.openRoom(t, "Need help with order #123", "Need help with order #123")

	// Agent dashboard sees one unread and the preview.
	rooms, err := f.svc.ListRooms(ctx, agent, storage.RoomFilter{})
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, 1, rooms[0].UnreadCount)
	assert.False(t, rooms[0].IsRead)
	assert.Equal(t, "Need help with order #123", rooms[0].LastMessagePreview)

	// Agent opens it.
	count, err := f.svc.MarkRoomRead(ctx, agent, room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	rooms, _ = f.svc.ListRooms(ctx, agent, storage.RoomFilter{})
	assert.Equal(t, 0, rooms[0].UnreadCount)
	assert.True(t, rooms[0].IsRead)

	// Agent replies; the customer now has one unread.
	_, err = f.svc.PostMessage(ctx, agent, room.RoomID, support.MessageInput{Body: "On it!"})
	require.NoError(t, err)
	mine, err := f.svc.ListRooms(ctx, customer, storage.RoomFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, 1, mine[0].UnreadCount)

	total, err := f.svc.UnreadSummary(ctx, customer)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	_, history, err := f.svc.GetRoomWithHistory(ctx, customer, room.RoomID, support.History{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].IsRead, "agent has read the customer's message")
	assert.False(t, history[1].IsRead, "customer has not read the reply yet")
}

func TestScenario_TwoAgentTabsGetOnePreviewEach(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.openRoom(t, "", "")

	tabA, _ := f.hub.SubscribeGlobal(agent.ID, agent.Role)
	tabB, _ := f.hub.SubscribeGlobal(agent.ID, agent.Role)

	_, err := f.svc.PostMessage(ctx, customer, room.RoomID, support.MessageInput{Body: "hello?"})
	require.NoError(t, err)

	for _, tab := range []*chathub.Subscriber{tabA, tabB} {
		ev := next(t, tab)
		assert.Equal(t, models.EventMessagePreview, ev.Type)
		assert.Equal(t, room.RoomID, ev.RoomID)
		require.NotNil(t, ev.UnreadDelta)
		assert.Equal(t, 1, *ev.UnreadDelta)
		assert.Equal(t, "hello?", ev.Preview)
		noMore(t, tab)
	}
}

func TestScenario_PriorityChangeReachesAllGlobalSubscribers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.openRoom(t, "", "")
	subs := make([]*chathub.Subscriber, 3)
	for i := range subs {
		subs[i], _ = f.hub.SubscribeGlobal(fmt.Sprintf("agent-%d", i), models.RoleAgent)
	}

	updated, err := f.svc.UpdateRoomPriority(ctx, agent, room.RoomID, models.PriorityUrgent)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityUrgent, updated.Priority)

	for _, sub := range subs {
		ev := next(t, sub)
		assert.Equal(t, models.EventRoomUpdated, ev.Type)
		assert.Equal(t, models.PriorityUrgent, ev.Priority)
		assert.Empty(t, ev.Status)
	}
}

func TestPostMessage_RoomTopicCarriesFullMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.AddProduct(models.Product{ID: 7, Name: "Kettle", Price: 30, DiscountPrice: 25, Stock: 3, SKU: "K-7"})
	room := f.openRoom(t, "", "")
	widget, _ := f.hub.SubscribeRoom(room.RoomID, customer.ID, customer.Role)

	pid := uint(7)
	msg, err := f.svc.PostMessage(ctx, agent, room.RoomID, support.MessageInput{Type: "PRODUCT", ProductID: &pid})
	require.NoError(t, err)

	ev := next(t, widget)
	assert.Equal(t, models.EventNewMessage, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, msg.ID, ev.Message.ID)
	require.NotNil(t, ev.Message.ProductRef())
	assert.Equal(t, "K-7", ev.Message.ProductRef().SKU)
	assert.Equal(t, 25.0, ev.Message.ProductRef().DiscountPrice)
}

func TestPostMessage_AgentReplyHasZeroDelta(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.openRoom(t, "", "")
	dash, _ := f.hub.SubscribeGlobal(agent.ID, agent.Role)

	_, err := f.svc.PostMessage(ctx, agent, room.RoomID, support.MessageInput{Body: "On it!"})
	require.NoError(t, err)

	ev := next(t, dash)
	require.NotNil(t, ev.UnreadDelta)
	assert.Equal(t, 0, *ev.UnreadDelta)
	assert.Equal(t, models.RoleAgent, ev.SenderRole)
}

func TestPostMessage_ClosedRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.openRoom(t, "", "hi")
	_, err := f.svc.UpdateRoomStatus(ctx, agent, room.RoomID, models.RoomClosed)
	require.NoError(t, err)

	_, err = f.svc.PostMessage(ctx, customer, room.RoomID, support.MessageInput{Body: "still there?"})
	assert.ErrorIs(t, err, support.ErrRoomClosed)

	_, err = f.svc.PostMessage(ctx, agent, room.RoomID, support.MessageInput{Body: "follow-up"})
	assert.NoError(t, err, "agents may still post to closed rooms")

	// History of the closed room stays readable by its customer.
	_, history, err := f.svc.GetRoomWithHistory(ctx, customer, room.RoomID, support.History{})
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestPostMessage_ResolvedRoomAcceptsCustomer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.openRoom(t, "", "hi")
	_, err := f.svc.UpdateRoomStatus(ctx, agent, room.RoomID, models.RoomResolved)
	require.NoError(t, err)

	_, err = f.svc.PostMessage(ctx, customer, room.RoomID, support.MessageInput{Body: "one more thing"})
	require.NoError(t, err)

	stored, _, err := f.svc.GetRoomWithHistory(ctx, agent, room.RoomID, support.History{})
	require.NoError(t, err)
	assert.Equal(t, models.RoomResolved, stored.Status, "customers never change status")
}

func TestPostMessage_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.openRoom(t, "", "")
	sub, _ := f.hub.SubscribeRoom(room.RoomID, agent.ID, agent.Role)
	missing := uint(404)

	tests := []struct {
		name string
		in   support.MessageInput
	}{
		{"empty body", support.MessageInput{Body: "   "}},
		{"unknown type", support.MessageInput{Body: "x", Type: "VIDEO"}},
		{"product without id", support.MessageInput{Type: "PRODUCT"}},
		{"unknown product", support.MessageInput{Type: "PRODUCT", ProductID: &missing}},
		{"too long", support.MessageInput{Body: string(make([]rune, 5000))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.PostMessage(ctx, customer, room.RoomID, tt.in)
			assert.ErrorIs(t, err, support.ErrValidation)
		})
	}
	noMore(t, sub)
}

func TestPostMessage_Access(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.openRoom(t, "", "")

	_, err := f.svc.PostMessage(ctx, stranger, room.RoomID, support.MessageInput{Body: "hi"})
	assert.ErrorIs(t, err, support.ErrForbidden)

	_, err = f.svc.PostMessage(ctx, customer, "not-a-uuid", support.MessageInput{Body: "hi"})
	assert.ErrorIs(t, err, support.ErrNotFound)

	_, err = f.svc.PostMessage(ctx, customer, "6f1c1e1e-0000-4000-8000-000000000000", support.MessageInput{Body: "hi"})
	assert.ErrorIs(t, err, support.ErrNotFound)
}

func TestCreateRoom_Duplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.openRoom(t, "first", "")

	_, err := f.svc.CreateRoom(ctx, customer, "second")

	assert.ErrorIs(t, err, support.ErrDuplicateActiveRoom)
	var dup *support.DuplicateRoomError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.RoomID, dup.RoomID)

	_, err = f.svc.CreateRoom(ctx, agent, "agents cannot open rooms")
	assert.ErrorIs(t, err, support.ErrForbidden)
}

func TestOpenRoom_WithFirstMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dashboard, _ := f.hub.SubscribeGlobal(agent.ID, agent.Role)

	room, msg, err := f.svc.OpenRoom(ctx, customer, "Order #7", support.MessageInput{Body: "  where is it?  "})

	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "where is it?", msg.Body)
	assert.Equal(t, msg.ID, room.LastMessageID)
	assert.Equal(t, "where is it?", room.LastMessagePreview)

	ev := next(t, dashboard)
	assert.Equal(t, models.EventMessagePreview, ev.Type)
	assert.Equal(t, room.RoomID, ev.RoomID)
}

func TestOpenRoom_InvalidFirstMessageCreatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, _, err := f.svc.OpenRoom(ctx, customer, "", support.MessageInput{Body: "   "})
	assert.ErrorIs(t, err, support.ErrValidation)

	rooms, err := f.svc.ListRooms(ctx, customer, storage.RoomFilter{})
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestOpenRoom_RejectedFirstMessageLeavesNoRoom(t *testing.T) {
	ctx := context.Background()
	lim := new(mockLimiter)
	f := newFixture(t, support.WithLimiter(lim))
	dashboard, _ := f.hub.SubscribeGlobal(agent.ID, agent.Role)

	lim.On("Allow", customer.ID).Return(false, nil).Once()
	_, _, err := f.svc.OpenRoom(ctx, customer, "", support.MessageInput{Body: "hello"})
	assert.ErrorIs(t, err, support.ErrRateLimited)

	missing := uint(404)
	lim.On("Allow", customer.ID).Return(true, nil)
	_, _, err = f.svc.OpenRoom(ctx, customer, "", support.MessageInput{Type: "PRODUCT", ProductID: &missing})
	assert.ErrorIs(t, err, support.ErrValidation)

	rooms, err := f.svc.ListRooms(ctx, customer, storage.RoomFilter{})
	require.NoError(t, err)
	assert.Empty(t, rooms)
	noMore(t, dashboard)

	room, msg, err := f.svc.OpenRoom(ctx, customer, "", support.MessageInput{Body: "hello again"})
	require.NoError(t, err, "the customer can still open a room")
	assert.Equal(t, msg.ID, room.LastMessageID)
}

func TestOpenRoom_ActiveRoomIsKept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first, _, err := f.svc.OpenRoom(ctx, customer, "first", support.MessageInput{Body: "one"})
	require.NoError(t, err)

	_, _, err = f.svc.OpenRoom(ctx, customer, "second", support.MessageInput{Body: "two"})

	var dup *support.DuplicateRoomError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.RoomID, dup.RoomID)
	_, msgs, err := f.svc.GetRoomWithHistory(ctx, customer, first.RoomID, support.History{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "one", msgs[0].Body)
}

func TestGetRoomWithHistory_ReturnsWholeHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.openRoom(t, "", "first")
	for i := 0; i < 250; i++ {
		_, err := f.svc.PostMessage(ctx, agent, room.RoomID, support.MessageInput{Body: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	_, msgs, err := f.svc.GetRoomWithHistory(ctx, agent, room.RoomID, support.History{})
	require.NoError(t, err)
	require.Len(t, msgs, 251)
	assert.Equal(t, "first", msgs[0].Body)
	assert.Equal(t, "m249", msgs[250].Body)

	_, page, err := f.svc.GetRoomWithHistory(ctx, agent, room.RoomID, support.History{AfterID: msgs[200].ID, Limit: 20})
	require.NoError(t, err)
	require.Len(t, page, 20)
	assert.Equal(t, msgs[201].ID, page[0].ID)
}

func TestMarkRoomRead_IdempotentAndAnnounced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.openRoom(t, "", "hi")
	otherTab, _ := f.hub.SubscribeGlobal(agent.ID, agent.Role)

	for i := 0; i < 2; i++ {
		count, err := f.svc.MarkRoomRead(ctx, agent, room.RoomID)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	}

	ev := next(t, otherTab)
	assert.Equal(t, models.EventRoomUpdated, ev.Type)
	require.NotNil(t, ev.UnreadCount)
	assert.Equal(t, 0, *ev.UnreadCount)
	noMore(t, otherTab)

	_, err := f.svc.MarkRoomRead(ctx, stranger, room.RoomID)
	assert.ErrorIs(t, err, support.ErrForbidden)
}

func TestUpdateRoom_AgentOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.openRoom(t, "", "")

	_, err := f.svc.UpdateRoomStatus(ctx, customer, room.RoomID, models.RoomClosed)
	assert.ErrorIs(t, err, support.ErrForbidden)

	_, err = f.svc.UpdateRoom(ctx, agent, room.RoomID, support.RoomPatch{})
	assert.ErrorIs(t, err, support.ErrValidation)
}

func TestUpdateRoom_AssignAndTagReachRoomTopic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.openRoom(t, "", "")
	widget, _ := f.hub.SubscribeRoom(room.RoomID, customer.ID, customer.Role)

	updated, err := f.svc.UpdateRoom(ctx, agent, room.RoomID, support.RoomPatch{AgentID: &agent.ID, Tags: []string{"billing"}})
	require.NoError(t, err)
	require.NotNil(t, updated.AgentID)
	assert.Equal(t, agent.ID, *updated.AgentID)
	assert.Equal(t, []string{"billing"}, []string(updated.Tags))

	ev := next(t, widget)
	assert.Equal(t, models.EventRoomUpdated, ev.Type)
	require.NotNil(t, ev.AgentID)
	assert.Equal(t, agent.ID, *ev.AgentID)

	unassigned, err := f.svc.AssignAgent(ctx, agent, room.RoomID, "")
	require.NoError(t, err)
	assert.Nil(t, unassigned.AgentID)
}

func TestListRooms_CustomerSeesOnlyOwnIncludingClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old := f.openRoom(t, "old", "hi")
	_, err := f.svc.UpdateRoomStatus(ctx, agent, old.RoomID, models.RoomClosed)
	require.NoError(t, err)
	f.openRoom(t, "new", "hello again")
	_, err = f.svc.CreateRoom(ctx, stranger, "someone else")
	require.NoError(t, err)

	mine, err := f.svc.ListRooms(ctx, customer, storage.RoomFilter{CustomerID: stranger.ID})
	require.NoError(t, err)
	assert.Len(t, mine, 2, "filter cannot widen a customer's view")

	all, err := f.svc.ListRooms(ctx, agent, storage.RoomFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPostMessage_ConcurrentPostsStayOrdered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.openRoom(t, "", "")
	sub, _ := f.hub.SubscribeRoom(room.RoomID, agent.ID, agent.Role)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := customer
			if i%2 == 0 {
				actor = agent
			}
			_, err := f.svc.PostMessage(ctx, actor, room.RoomID, support.MessageInput{Body: fmt.Sprintf("m%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	var last uint
	for i := 0; i < n; i++ {
		ev := next(t, sub)
		require.NotNil(t, ev.Message)
		assert.Greater(t, ev.Message.ID, last, "room subscribers see ids in increasing order")
		last = ev.Message.ID
	}

	stored, _, err := f.svc.GetRoomWithHistory(ctx, agent, room.RoomID, support.History{})
	require.NoError(t, err)
	assert.Equal(t, last, stored.LastMessageID)
	assert.Equal(t, n/2, stored.AgentUnread)
	assert.Equal(t, n/2, stored.CustomerUnread)
}

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) Allow(ctx context.Context, key string) (bool, error) {
	args := m.Called(key)
	return args.Bool(0), args.Error(1)
}

func TestPostMessage_RateLimit(t *testing.T) {
	ctx := context.Background()
	lim := new(mockLimiter)
	f := newFixture(t, support.WithLimiter(lim))
	room := f.openRoom(t, "", "")

	lim.On("Allow", customer.ID).Return(false, nil).Once()
	_, err := f.svc.PostMessage(ctx, customer, room.RoomID, support.MessageInput{Body: "spam"})
	assert.ErrorIs(t, err, support.ErrRateLimited)

	lim.On("Allow", customer.ID).Return(false, errors.New("redis down")).Once()
	_, err = f.svc.PostMessage(ctx, customer, room.RoomID, support.MessageInput{Body: "ok"})
	assert.NoError(t, err, "limiter outages do not block customers")

	_, err = f.svc.PostMessage(ctx, agent, room.RoomID, support.MessageInput{Body: "agents are not limited"})
	assert.NoError(t, err)
	lim.AssertNumberOfCalls(t, "Allow", 2)
}

func TestPostMessage_TimestampsNeverDecrease(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, support.WithClock(func() time.Time { return clock }))
	room := f.openRoom(t, "", "")

	first, err := f.svc.PostMessage(ctx, customer, room.RoomID, support.MessageInput{Body: "a"})
	require.NoError(t, err)

	clock = clock.Add(-time.Minute)
	second, err := f.svc.PostMessage(ctx, agent, room.RoomID, support.MessageInput{Body: "b"})
	require.NoError(t, err)

	assert.False(t, second.CreatedAt.Before(first.CreatedAt))
	stored, _, _ := f.svc.GetRoomWithHistory(ctx, agent, room.RoomID, support.History{})
	assert.Equal(t, second.CreatedAt, stored.LastActivity)
}
