package client

import (
	"sort"
	"supportchat/backend/internal/models"
	"sync"
)

// Conversation is the local, id-ordered copy of one room's messages.
// History pages and stream events may overlap or arrive out of order;
// merging by id keeps exactly one entry per message.
type Conversation struct {
	RoomID string

	mu   sync.RWMutex
	msgs []models.ChatMessage
	ids  map[uint]struct{}
}

func NewConversation(roomID string) *Conversation {
	return &Conversation{RoomID: roomID, ids: make(map[uint]struct{})}
}

// Merge adds messages not seen yet and returns how many were new.
func (c *Conversation) Merge(msgs ...models.ChatMessage) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	sorted := true
	for _, m := range msgs {
		if m.RoomID != "" && m.RoomID != c.RoomID {
			continue
		}
		if _, seen := c.ids[m.ID]; seen {
			continue
		}
		if n := len(c.msgs); n > 0 && c.msgs[n-1].ID > m.ID {
			sorted = false
		}
		c.ids[m.ID] = struct{}{}
		c.msgs = append(c.msgs, m)
		added++
	}
	if !sorted {
		sort.Slice(c.msgs, func(i, j int) bool { return c.msgs[i].ID < c.msgs[j].ID })
	}
	return added
}

// Apply merges a NEW_MESSAGE event. It reports whether the message was new.
func (c *Conversation) Apply(ev models.Event) bool {
	if ev.Type != models.EventNewMessage || ev.Message == nil || ev.RoomID != c.RoomID {
		return false
	}
	return c.Merge(*ev.Message) == 1
}

// Messages returns a copy in id order.
func (c *Conversation) Messages() []models.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.ChatMessage, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// LastID is the highest message id held, 0 when empty.
func (c *Conversation) LastID() uint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.msgs) == 0 {
		return 0
	}
	return c.msgs[len(c.msgs)-1].ID
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.msgs)
}
