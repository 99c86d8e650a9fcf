package client

import (
	"sort"
	"supportchat/backend/internal/models"
	"sync"
)

// RoomList is the dashboard's room cache. Fetched lists and global events
// are merged by room id; for activity fields the later lastActivity wins,
// so a slow refetch never rolls back what the stream already delivered.
type RoomList struct {
	mu    sync.RWMutex
	rooms map[string]models.ChatRoom
}

func NewRoomList() *RoomList {
	return &RoomList{rooms: make(map[string]models.ChatRoom)}
}

// Reconcile merges a full fetch. Rooms missing from it are dropped.
func (l *RoomList) Reconcile(fetched []models.ChatRoom) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make(map[string]models.ChatRoom, len(fetched))
	for _, room := range fetched {
		next[room.RoomID] = merge(l.rooms[room.RoomID], room)
	}
	l.rooms = next
}

// Upsert merges a single room, e.g. the response of an update.
func (l *RoomList) Upsert(room models.ChatRoom) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rooms[room.RoomID] = merge(l.rooms[room.RoomID], room)
}

func merge(cached, fetched models.ChatRoom) models.ChatRoom {
	if cached.RoomID == "" || !cached.LastActivity.After(fetched.LastActivity) {
		return fetched
	}
	fetched.LastActivity = cached.LastActivity
	fetched.LastMessagePreview = cached.LastMessagePreview
	fetched.LastMessageID = cached.LastMessageID
	fetched.UnreadCount = cached.UnreadCount
	fetched.IsRead = cached.IsRead
	return fetched
}

// Apply folds a global event into the cache. It returns true when the
// cache cannot be trusted any more and the caller should refetch: the
// event names an unknown room, or events were dropped.
func (l *RoomList) Apply(ev models.Event) (refetch bool) {
	if ev.Type == models.EventResync {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	room, known := l.rooms[ev.RoomID]

	switch ev.Type {
	case models.EventMessagePreview:
		if !known {
			return true
		}
		if ev.LastActivity != nil {
			if ev.LastActivity.Before(room.LastActivity) || (ev.MessageID != 0 && ev.MessageID <= room.LastMessageID) {
				return false
			}
			room.LastActivity = *ev.LastActivity
		}
		room.LastMessagePreview = ev.Preview
		if ev.MessageID != 0 {
			room.LastMessageID = ev.MessageID
		}
		switch {
		case ev.UnreadCount != nil:
			room.UnreadCount = *ev.UnreadCount
		case ev.UnreadDelta != nil:
			room.UnreadCount += *ev.UnreadDelta
		}

	case models.EventRoomUpdated:
		if !known {
			return true
		}
		if ev.Status != "" {
			room.Status = ev.Status
		}
		if ev.Priority != "" {
			room.Priority = ev.Priority
		}
		if ev.AgentID != nil {
			if *ev.AgentID == "" {
				room.AgentID = nil
			} else {
				agent := *ev.AgentID
				room.AgentID = &agent
			}
		}
		if ev.Tags != nil {
			room.Tags = append([]string(nil), ev.Tags...)
		}
		if ev.UnreadCount != nil {
			room.UnreadCount = *ev.UnreadCount
		}

	default:
		return false
	}

	room.IsRead = room.UnreadCount == 0
	l.rooms[ev.RoomID] = room
	return false
}

// MarkRead zeroes a room locally after the server confirmed the read.
func (l *RoomList) MarkRead(roomID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if room, ok := l.rooms[roomID]; ok {
		room.UnreadCount = 0
		room.IsRead = true
		l.rooms[roomID] = room
	}
}

func (l *RoomList) Get(roomID string) (models.ChatRoom, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	room, ok := l.rooms[roomID]
	return room, ok
}

// Rooms returns the cache ordered by last activity, newest first.
func (l *RoomList) Rooms() []models.ChatRoom {
	l.mu.RLock()
	out := make([]models.ChatRoom, 0, len(l.rooms))
	for _, room := range l.rooms {
		out = append(out, room)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// UnreadTotal sums the cached unread counters.
func (l *RoomList) UnreadTotal() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0
	for _, room := range l.rooms {
		total += room.UnreadCount
	}
	return total
}
