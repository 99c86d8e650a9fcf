package client

import (
	"context"
	"errors"
	"net/http"
	"supportchat/backend/internal/models"
	"sync"
)

// ErrNoRoom is returned by widget calls that need a room before one exists.
var ErrNoRoom = errors.New("no active room")

// CustomerWidget drives the single-room customer chat. Until the first
// message is sent there is no room; the first Send creates it, posts the
// message and subscribes to the room's stream.
type CustomerWidget struct {
	api     *Client
	backoff Backoff
	// Subject is used when Send has to create the room.
	Subject string
	// OnChange, if set, is called after the conversation or the room changed.
	OnChange func()

	mu   sync.Mutex
	room *models.ChatRoom
	conv *Conversation
	sub  *Subscription
}

func NewCustomerWidget(api *Client, backoff Backoff) *CustomerWidget {
	return &CustomerWidget{api: api, backoff: backoff}
}

// Load attaches to the customer's current room, if there is one.
func (w *CustomerWidget) Load(ctx context.Context) error {
	rooms, err := w.api.ListRooms(ctx, RoomQuery{})
	if err != nil {
		return err
	}
	for i := range rooms {
		if rooms[i].Status.Active() {
			return w.attach(ctx, &rooms[i])
		}
	}
	return nil
}

// Send posts a message, creating the room first when there is none.
func (w *CustomerWidget) Send(ctx context.Context, in MessageInput) (*models.ChatMessage, error) {
	room := w.Room()
	if room != nil && room.Status == models.RoomClosed {
		w.detach()
		room = nil
	}
	if room == nil {
		created, msg, err := w.api.OpenRoom(ctx, w.Subject, in)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict && apiErr.RoomID != "" {
			// Another tab opened the room first.
			existing, _, getErr := w.api.GetRoom(ctx, apiErr.RoomID, 0, 1)
			if getErr != nil {
				return nil, getErr
			}
			if err := w.attach(ctx, existing); err != nil {
				return nil, err
			}
			return w.post(ctx, existing.RoomID, in)
		}
		if err != nil {
			return nil, err
		}
		if err := w.attach(ctx, created); err != nil {
			return nil, err
		}
		if msg != nil {
			w.conversation().Merge(*msg)
			w.changed()
		}
		return msg, nil
	}
	return w.post(ctx, room.RoomID, in)
}

func (w *CustomerWidget) post(ctx context.Context, roomID string, in MessageInput) (*models.ChatMessage, error) {
	msg, err := w.api.PostMessage(ctx, roomID, in)
	if IsStatus(err, http.StatusForbidden) {
		// The room was closed under us; the next Send starts a new one.
		w.detach()
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	w.conversation().Merge(*msg)
	w.changed()
	return msg, nil
}

// MarkRead clears the customer's unread counter for the current room.
func (w *CustomerWidget) MarkRead(ctx context.Context) error {
	room := w.Room()
	if room == nil {
		return ErrNoRoom
	}
	if _, err := w.api.MarkRead(ctx, room.RoomID); err != nil {
		return err
	}
	w.mu.Lock()
	if w.room != nil && w.room.RoomID == room.RoomID {
		w.room.UnreadCount = 0
		w.room.IsRead = true
	}
	w.mu.Unlock()
	return nil
}

func (w *CustomerWidget) attach(ctx context.Context, room *models.ChatRoom) error {
	_, history, err := w.api.GetRoom(ctx, room.RoomID, 0, 0)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.room != nil && w.room.RoomID == room.RoomID {
		w.mu.Unlock()
		w.conversation().Merge(history...)
		return nil
	}
	old := w.sub
	w.room = room
	w.conv = NewConversation(room.RoomID)
	w.conv.Merge(history...)
	conv := w.conv
	w.mu.Unlock()

	if old != nil {
		old.Close()
	}
	sub := w.api.Subscribe(context.Background(), StreamTarget{RoomID: room.RoomID}, StreamHandlers{
		OnEvent: func(ev models.Event) { w.onEvent(conv, ev) },
		OnReconnect: func(ctx context.Context) error {
			_, missed, err := w.api.GetRoom(ctx, conv.RoomID, conv.LastID(), 0)
			if err == nil && conv.Merge(missed...) > 0 {
				w.changed()
			}
			return err
		},
	}, w.backoff)

	w.mu.Lock()
	w.sub = sub
	w.mu.Unlock()
	w.changed()
	return nil
}

func (w *CustomerWidget) onEvent(conv *Conversation, ev models.Event) {
	switch ev.Type {
	case models.EventNewMessage:
		if conv.Apply(ev) {
			w.mu.Lock()
			if w.room != nil && w.room.RoomID == conv.RoomID && ev.Message.SenderRole == models.RoleAgent {
				w.room.UnreadCount++
				w.room.IsRead = false
			}
			w.mu.Unlock()
			w.changed()
		}
	case models.EventRoomUpdated:
		w.mu.Lock()
		if w.room != nil && w.room.RoomID == ev.RoomID && ev.Status != "" {
			w.room.Status = ev.Status
		}
		w.mu.Unlock()
		w.changed()
	case models.EventResync:
		_, missed, err := w.api.GetRoom(context.Background(), conv.RoomID, conv.LastID(), 0)
		if err == nil && conv.Merge(missed...) > 0 {
			w.changed()
		}
	}
}

func (w *CustomerWidget) detach() {
	w.mu.Lock()
	sub := w.sub
	w.sub, w.room, w.conv = nil, nil, nil
	w.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
	w.changed()
}

func (w *CustomerWidget) conversation() *Conversation {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conv == nil {
		return NewConversation("")
	}
	return w.conv
}

func (w *CustomerWidget) changed() {
	if w.OnChange != nil {
		w.OnChange()
	}
}

// Room returns a copy of the current room, nil in the no-room state.
func (w *CustomerWidget) Room() *models.ChatRoom {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.room == nil {
		return nil
	}
	room := *w.room
	return &room
}

// Messages returns the current conversation in id order.
func (w *CustomerWidget) Messages() []models.ChatMessage {
	return w.conversation().Messages()
}

// Close tears down the room subscription.
func (w *CustomerWidget) Close() {
	w.mu.Lock()
	sub := w.sub
	w.sub = nil
	w.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}
