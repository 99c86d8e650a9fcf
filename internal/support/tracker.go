package support

import (
	"context"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"
)

// Tracker owns read/unread state. Counters live on the room row and are
// moved by the store inside the same transaction as the message insert, so
// the tracker only has to derive what to announce and handle explicit reads.
type Tracker struct {
	store storage.Storage
}

func NewTracker(store storage.Storage) *Tracker {
	return &Tracker{store: store}
}

// outbound is one event bound for one topic.
type outbound struct {
	topic string
	event models.Event
}

// OnMessagePosted returns the events a stored message produces: the full
// message on the room topic and a preview on the global topic. unreadDelta
// is counted for agents, so agent replies carry 0.
func (t *Tracker) OnMessagePosted(room *models.ChatRoom, msg *models.ChatMessage) []outbound {
	delta := 0
	if msg.SenderRole == models.RoleCustomer {
		delta = 1
	}
	return []outbound{
		{topic: chathub.RoomTopic(room.RoomID), event: models.NewMessageEvent(msg)},
		{topic: chathub.GlobalTopic, event: models.NewPreviewEvent(room, msg, delta)},
	}
}

// MarkRoomRead clears the reader's side of the room. It is idempotent; the
// returned events are empty when nothing changed.
func (t *Tracker) MarkRoomRead(ctx context.Context, roomID string, reader models.Role) (*models.ChatRoom, []outbound, error) {
	room, changed, err := t.store.MarkRead(ctx, roomID, reader)
	if err != nil {
		return nil, nil, err
	}
	if !changed || reader != models.RoleAgent {
		return room, nil, nil
	}
	zero := 0
	return room, []outbound{{
		topic: chathub.GlobalTopic,
		event: models.NewRoomUpdatedEvent(roomID, models.RoomChange{UnreadCount: &zero}),
	}}, nil
}

// UnreadSummary totals unread messages across the rooms the participant can see.
func (t *Tracker) UnreadSummary(ctx context.Context, role models.Role, participantID string) (int, error) {
	return t.store.UnreadTotal(ctx, role, participantID)
}
