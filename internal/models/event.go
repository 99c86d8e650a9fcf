package models

import "time"

// EventType tags every payload pushed to streaming clients.
type EventType string

const (
	// EventNewMessage carries the full message on a room topic.
	EventNewMessage EventType = "NEW_MESSAGE"
	// EventMessagePreview is the room-list level notification on the global topic.
	EventMessagePreview EventType = "NEW_MESSAGE_PREVIEW"
	// EventRoomUpdated announces status, priority, assignment or read changes.
	EventRoomUpdated EventType = "ROOM_UPDATED"
	// EventResync tells a subscriber that events were dropped and it must refetch.
	EventResync EventType = "RESYNC"
)

// Event is the single wire payload for both topics. Each event is
// independently parseable; optional fields are omitted when unset.
type Event struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"roomId,omitempty"`

	Message *ChatMessage `json:"message,omitempty"`

	Preview      string     `json:"preview,omitempty"`
	UnreadDelta  *int       `json:"unreadDelta,omitempty"`
	UnreadCount  *int       `json:"unreadCount,omitempty"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
	SenderRole   Role       `json:"senderRole,omitempty"`
	MessageID    uint       `json:"messageId,omitempty"`

	Status   RoomStatus `json:"status,omitempty"`
	Priority Priority   `json:"priority,omitempty"`
	AgentID  *string    `json:"agentId,omitempty"`
	Tags     []string   `json:"tags,omitempty"`

	Dropped uint64 `json:"dropped,omitempty"`
}

func NewMessageEvent(msg *ChatMessage) Event {
	return Event{Type: EventNewMessage, RoomID: msg.RoomID, Message: msg}
}

// NewPreviewEvent builds the global notification for a freshly stored message.
// unreadDelta and unreadCount are expressed for the agent side.
func NewPreviewEvent(room *ChatRoom, msg *ChatMessage, unreadDelta int) Event {
	activity := room.LastActivity
	count := room.AgentUnread
	return Event{
		Type:         EventMessagePreview,
		RoomID:       room.RoomID,
		Preview:      room.LastMessagePreview,
		UnreadDelta:  &unreadDelta,
		UnreadCount:  &count,
		LastActivity: &activity,
		SenderRole:   msg.SenderRole,
		MessageID:    msg.ID,
	}
}

// RoomChange lists what an update touched. Nil fields are left out of the event.
type RoomChange struct {
	Status      *RoomStatus
	Priority    *Priority
	AgentID     *string
	Tags        []string
	UnreadCount *int
}

// Empty reports whether the change carries nothing.
func (c RoomChange) Empty() bool {
	return c.Status == nil && c.Priority == nil && c.AgentID == nil && c.Tags == nil && c.UnreadCount == nil
}

func NewRoomUpdatedEvent(roomID string, change RoomChange) Event {
	ev := Event{Type: EventRoomUpdated, RoomID: roomID, AgentID: change.AgentID, Tags: change.Tags, UnreadCount: change.UnreadCount}
	if change.Status != nil {
		ev.Status = *change.Status
	}
	if change.Priority != nil {
		ev.Priority = *change.Priority
	}
	return ev
}

func NewResyncEvent(roomID string, dropped uint64) Event {
	return Event{Type: EventResync, RoomID: roomID, Dropped: dropped}
}
