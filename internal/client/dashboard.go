package client

import (
	"context"
	"log"
	"supportchat/backend/internal/models"
	"sync"
	"sync/atomic"
)

// Dashboard drives the agent view: the global stream keeps the room list
// current, and at most one selected room has its own stream.
type Dashboard struct {
	api     *Client
	backoff Backoff
	Rooms   *RoomList
	// Query filters the room list fetches.
	Query RoomQuery
	// OnChange, if set, is called after the room list or the selected
	// conversation changed.
	OnChange func()

	ctx        context.Context
	refetching atomic.Bool

	mu       sync.Mutex
	global   *Subscription
	selected *Conversation
	roomSub  *Subscription
}

func NewDashboard(api *Client, backoff Backoff) *Dashboard {
	return &Dashboard{api: api, backoff: backoff, Rooms: NewRoomList()}
}

// Start loads the room list and subscribes to the global topic.
func (d *Dashboard) Start(ctx context.Context) error {
	d.ctx = ctx
	if err := d.refreshRooms(ctx); err != nil {
		return err
	}
	sub := d.api.Subscribe(ctx, StreamTarget{Global: true}, StreamHandlers{
		OnEvent:     d.onGlobal,
		OnReconnect: d.refreshRooms,
	}, d.backoff)

	d.mu.Lock()
	d.global = sub
	d.mu.Unlock()
	return nil
}

func (d *Dashboard) refreshRooms(ctx context.Context) error {
	rooms, err := d.api.ListRooms(ctx, d.Query)
	if err != nil {
		return err
	}
	d.Rooms.Reconcile(rooms)
	d.changed()
	return nil
}

func (d *Dashboard) onGlobal(ev models.Event) {
	if d.Rooms.Apply(ev) {
		d.refetchAsync()
	}

	// A customer message in the open room is read as soon as it arrives.
	if ev.Type == models.EventMessagePreview && ev.SenderRole == models.RoleCustomer {
		d.mu.Lock()
		open := d.selected != nil && d.selected.RoomID == ev.RoomID
		d.mu.Unlock()
		if open {
			go d.markRead(ev.RoomID)
		}
	}
	d.changed()
}

// refetchAsync runs one list refetch at a time off the stream goroutine.
func (d *Dashboard) refetchAsync() {
	if !d.refetching.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer d.refetching.Store(false)
		if err := d.refreshRooms(d.ctx); err != nil && d.ctx.Err() == nil {
			log.Printf("WARN: [Dashboard] Room list refetch failed: %v", err)
		}
	}()
}

// SelectRoom switches the conversation pane to roomID: fetch the history,
// tear down the previous room stream, open the new one, then mark it read.
func (d *Dashboard) SelectRoom(ctx context.Context, roomID string) error {
	room, history, err := d.api.GetRoom(ctx, roomID, 0, 0)
	if err != nil {
		return err
	}
	d.Rooms.Upsert(*room)

	d.mu.Lock()
	old := d.roomSub
	d.roomSub = nil
	d.mu.Unlock()
	if old != nil {
		old.Close()
	}

	conv := NewConversation(roomID)
	conv.Merge(history...)
	streamCtx := d.streamContext(ctx)
	sub := d.api.Subscribe(streamCtx, StreamTarget{RoomID: roomID}, StreamHandlers{
		OnEvent: func(ev models.Event) {
			if ev.Type == models.EventResync {
				if err := d.catchUp(streamCtx, conv); err != nil && streamCtx.Err() == nil {
					log.Printf("WARN: [Dashboard] Resync of room %s failed: %v", roomID, err)
				}
				return
			}
			if conv.Apply(ev) {
				d.changed()
			}
		},
		OnReconnect: func(ctx context.Context) error {
			return d.catchUp(ctx, conv)
		},
	}, d.backoff)

	d.mu.Lock()
	d.selected = conv
	d.roomSub = sub
	d.mu.Unlock()

	if _, err := d.api.MarkRead(ctx, roomID); err != nil {
		return err
	}
	d.Rooms.MarkRead(roomID)
	d.changed()
	return nil
}

// catchUp fetches the messages conv is missing after its newest one.
func (d *Dashboard) catchUp(ctx context.Context, conv *Conversation) error {
	_, missed, err := d.api.GetRoom(ctx, conv.RoomID, conv.LastID(), 0)
	if err != nil {
		return err
	}
	if conv.Merge(missed...) > 0 {
		d.changed()
	}
	return nil
}

func (d *Dashboard) streamContext(fallback context.Context) context.Context {
	if d.ctx != nil {
		return d.ctx
	}
	return fallback
}

func (d *Dashboard) markRead(roomID string) {
	if _, err := d.api.MarkRead(d.ctx, roomID); err != nil {
		log.Printf("WARN: [Dashboard] Failed to mark room %s read: %v", roomID, err)
		return
	}
	d.Rooms.MarkRead(roomID)
	d.changed()
}

// Reply posts to the selected room.
func (d *Dashboard) Reply(ctx context.Context, in MessageInput) (*models.ChatMessage, error) {
	conv := d.Selected()
	if conv == nil {
		return nil, ErrNoRoom
	}
	msg, err := d.api.PostMessage(ctx, conv.RoomID, in)
	if err != nil {
		return nil, err
	}
	if conv.Merge(*msg) > 0 {
		d.changed()
	}
	return msg, nil
}

// UpdateRoom applies an agent edit and folds the result into the list.
func (d *Dashboard) UpdateRoom(ctx context.Context, roomID string, patch RoomPatch) (*models.ChatRoom, error) {
	room, err := d.api.UpdateRoom(ctx, roomID, patch)
	if err != nil {
		return nil, err
	}
	d.Rooms.Upsert(*room)
	d.changed()
	return room, nil
}

// Selected returns the open conversation, nil if none.
func (d *Dashboard) Selected() *Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selected
}

func (d *Dashboard) changed() {
	if d.OnChange != nil {
		d.OnChange()
	}
}

// Close tears down both subscriptions.
func (d *Dashboard) Close() {
	d.mu.Lock()
	global, room := d.global, d.roomSub
	d.global, d.roomSub, d.selected = nil, nil, nil
	d.mu.Unlock()

	if room != nil {
		room.Close()
	}
	if global != nil {
		global.Close()
	}
}
