package storage

import (
	"context"
	"sort"
	"strings"
	"supportchat/backend/internal/models"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Memory keeps everything in process. It backs DB_DSN=memory and tests.
// Returned values are copies; callers never share state with the store.
type Memory struct {
	mu       sync.Mutex
	users    map[string]models.User
	rooms    map[string]*models.ChatRoom
	messages map[string][]models.ChatMessage
	products map[uint]models.Product
	nextMsg  uint
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]models.User),
		rooms:    make(map[string]*models.ChatRoom),
		messages: make(map[string][]models.ChatMessage),
		products: make(map[uint]models.Product),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AddProduct seeds the catalog slice used for product cards.
func (m *Memory) AddProduct(p models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

func (m *Memory) SaveUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[user.ID]; ok {
		changes := profileChanges(&existing, user)
		if name, ok := changes["name"].(string); ok {
			existing.Name = name
		}
		if email, ok := changes["email"].(string); ok {
			existing.Email = email
		}
		m.users[user.ID] = existing
		return nil
	}
	u := *user
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	u.CreatedAt = m.now()
	m.users[u.ID] = u
	return nil
}

func (m *Memory) CreateRoom(_ context.Context, room *models.ChatRoom) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeRoomLocked(room.CustomerID) != nil {
		return ErrDuplicateActiveRoom
	}
	if room.RoomID == "" {
		room.RoomID = uuid.New().String()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = m.now()
	}
	stored := *room
	stored.Customer = nil
	m.rooms[room.RoomID] = &stored
	return nil
}

func (m *Memory) FindActiveRoom(_ context.Context, customerID string) (*models.ChatRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room := m.activeRoomLocked(customerID)
	if room == nil {
		return nil, ErrNotFound
	}
	return m.copyLocked(room), nil
}

func (m *Memory) GetRoom(_ context.Context, roomID string) (*models.ChatRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return m.copyLocked(room), nil
}

func (m *Memory) ListRooms(_ context.Context, filter RoomFilter) ([]models.ChatRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var out []models.ChatRoom
	for _, room := range m.rooms {
		if filter.Status != "" && room.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && room.Priority != filter.Priority {
			continue
		}
		if filter.CustomerID != "" && room.CustomerID != filter.CustomerID {
			continue
		}
		if filter.AgentID != "" && (room.AgentID == nil || *room.AgentID != filter.AgentID) {
			continue
		}
		if search != "" && !m.matchesLocked(room, search) {
			continue
		}
		out = append(out, *m.copyLocked(room))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func (m *Memory) UpdateRoom(_ context.Context, roomID string, upd RoomUpdate) (*models.ChatRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Status != nil && upd.Status.Active() && !room.Status.Active() {
		if other := m.activeRoomLocked(room.CustomerID); other != nil && other.RoomID != roomID {
			return nil, ErrDuplicateActiveRoom
		}
	}
	if upd.Status != nil {
		room.Status = *upd.Status
	}
	if upd.Priority != nil {
		room.Priority = *upd.Priority
	}
	if upd.AgentID != nil {
		if *upd.AgentID == "" {
			room.AgentID = nil
		} else {
			agent := *upd.AgentID
			room.AgentID = &agent
		}
	}
	if upd.Tags != nil {
		room.Tags = append(pq.StringArray(nil), upd.Tags...)
	}
	return m.copyLocked(room), nil
}

func (m *Memory) AppendMessage(_ context.Context, msg *models.ChatMessage, preview string) (*models.ChatRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[msg.RoomID]
	if !ok {
		return nil, ErrNotFound
	}
	m.appendLocked(room, msg, preview)
	return m.copyLocked(room), nil
}

func (m *Memory) OpenRoom(_ context.Context, room *models.ChatRoom, first *models.ChatMessage, preview string) (*models.ChatRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeRoomLocked(room.CustomerID) != nil {
		return nil, ErrDuplicateActiveRoom
	}
	if room.RoomID == "" {
		room.RoomID = uuid.New().String()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = m.now()
	}
	stored := *room
	stored.Customer = nil
	m.rooms[room.RoomID] = &stored

	first.RoomID = room.RoomID
	m.appendLocked(&stored, first, preview)
	return m.copyLocked(&stored), nil
}

func (m *Memory) appendLocked(room *models.ChatRoom, msg *models.ChatMessage, preview string) {
	m.nextMsg++
	msg.ID = m.nextMsg
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	if msg.CreatedAt.Before(room.LastActivity) {
		msg.CreatedAt = room.LastActivity
	}
	m.messages[msg.RoomID] = append(m.messages[msg.RoomID], *msg)

	room.LastActivity = msg.CreatedAt
	room.LastMessagePreview = preview
	room.LastMessageID = msg.ID
	if msg.SenderRole.Counterpart() == models.RoleAgent {
		room.AgentUnread++
	} else {
		room.CustomerUnread++
	}
}

func (m *Memory) ListMessages(_ context.Context, roomID string, afterID uint, limit int) ([]models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChatMessage
	for _, msg := range m.messages[roomID] {
		if msg.ID <= afterID {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkRead(_ context.Context, roomID string, reader models.Role) (*models.ChatRoom, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, false, ErrNotFound
	}
	changed := room.UnreadFor(reader) > 0
	if reader == models.RoleAgent {
		room.AgentUnread, room.AgentReadUpTo = 0, room.LastMessageID
	} else {
		room.CustomerUnread, room.CustomerReadUpTo = 0, room.LastMessageID
	}
	return m.copyLocked(room), changed, nil
}

func (m *Memory) UnreadTotal(_ context.Context, role models.Role, participantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, room := range m.rooms {
		if role == models.RoleCustomer && room.CustomerID != participantID {
			continue
		}
		total += room.UnreadFor(role)
	}
	return total, nil
}

func (m *Memory) GetProduct(_ context.Context, id uint) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) activeRoomLocked(customerID string) *models.ChatRoom {
	for _, room := range m.rooms {
		if room.CustomerID == customerID && room.Status.Active() {
			return room
		}
	}
	return nil
}

func (m *Memory) matchesLocked(room *models.ChatRoom, search string) bool {
	if strings.Contains(strings.ToLower(room.Subject), search) {
		return true
	}
	u, ok := m.users[room.CustomerID]
	return ok && (strings.Contains(strings.ToLower(u.Name), search) || strings.Contains(strings.ToLower(u.Email), search))
}

func (m *Memory) copyLocked(room *models.ChatRoom) *models.ChatRoom {
	c := *room
	if room.AgentID != nil {
		agent := *room.AgentID
		c.AgentID = &agent
	}
	c.Tags = append(pq.StringArray(nil), room.Tags...)
	if u, ok := m.users[room.CustomerID]; ok {
		c.Customer = &u
	}
	return &c
}
