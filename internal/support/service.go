// Package support implements the chat operations behind the HTTP API:
// rooms, messages, agent edits and read tracking.
package support

import (
	"context"
	"errors"
	"log"
	"strings"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Actor is the authenticated caller.
type Actor struct {
	ID    string
	Name  string
	Email string
	Role  models.Role
}

func (a Actor) IsAgent() bool { return a.Role == models.RoleAgent }

// Limiter throttles message posting per sender.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MessageInput is a message as submitted by a client.
type MessageInput struct {
	Body      string
	Type      string
	ProductID *uint
}

// RoomPatch is an agent edit. Nil fields are unchanged; an empty AgentID unassigns.
type RoomPatch struct {
	Status   *models.RoomStatus
	Priority *models.Priority
	AgentID  *string
	Tags     []string
}

// History paginates GetRoomWithHistory.
type History struct {
	AfterID uint
	Limit   int
}

// Service persists first and publishes second, both under the room's lock,
// so subscribers observe a room's events in id order.
type Service struct {
	store   storage.Storage
	hub     chathub.Publisher
	tracker *Tracker
	locks   *roomLocks
	limiter Limiter
	now     func() time.Time
}

type Option func(*Service)

// WithLimiter throttles customer messages.
func WithLimiter(l Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store storage.Storage, hub chathub.Publisher, opts ...Option) *Service {
	s := &Service{
		store:   store,
		hub:     hub,
		tracker: NewTracker(store),
		locks:   newRoomLocks(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterParticipant records the caller on first contact and refreshes
// the profile it is searched by.
func (s *Service) RegisterParticipant(ctx context.Context, actor Actor) error {
	return s.store.SaveUser(ctx, &models.User{ID: actor.ID, Name: actor.Name, Email: actor.Email, Role: actor.Role})
}

// CreateRoom opens a room for the calling customer. If the customer already
// has a room that is not CLOSED, the error is a *DuplicateRoomError.
func (s *Service) CreateRoom(ctx context.Context, actor Actor, subject string) (*models.ChatRoom, error) {
	room, err := s.newRoom(actor, subject)
	if err != nil {
		return nil, err
	}
	err = s.store.CreateRoom(ctx, room)
	if errors.Is(err, storage.ErrDuplicateActiveRoom) {
		return nil, s.duplicateRoom(ctx, actor.ID)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("INFO: [Support] Room %s opened by %s.", room.RoomID, actor.ID)
	return room.ForViewer(actor.Role), nil
}

// OpenRoom creates the customer's room together with its first message.
// The message is validated, rate limited and resolved before anything is
// stored, and the store writes room and message as one unit.
func (s *Service) OpenRoom(ctx context.Context, actor Actor, subject string, first MessageInput) (*models.ChatRoom, *models.ChatMessage, error) {
	room, err := s.newRoom(actor, subject)
	if err != nil {
		return nil, nil, err
	}
	msg, err := s.newMessage(ctx, actor, first)
	if err != nil {
		return nil, nil, err
	}

	room.RoomID = uuid.NewString()
	unlock := s.locks.Lock(room.RoomID)
	defer unlock()

	opened, err := s.store.OpenRoom(ctx, room, msg, msg.Preview(config.PreviewLength))
	if errors.Is(err, storage.ErrDuplicateActiveRoom) {
		return nil, nil, s.duplicateRoom(ctx, actor.ID)
	}
	if err != nil {
		return nil, nil, err
	}
	s.publish(ctx, s.tracker.OnMessagePosted(opened, msg))
	log.Printf("INFO: [Support] Room %s opened by %s.", opened.RoomID, actor.ID)
	return opened.ForViewer(actor.Role), msg, nil
}

func (s *Service) newRoom(actor Actor, subject string) (*models.ChatRoom, error) {
	if actor.Role != models.RoleCustomer {
		return nil, ErrForbidden
	}
	subject = strings.TrimSpace(subject)
	if utf8.RuneCountInString(subject) > 200 {
		return nil, invalid("subject is too long")
	}
	now := s.now()
	return &models.ChatRoom{
		CustomerID:   actor.ID,
		Subject:      subject,
		Status:       models.RoomOpen,
		Priority:     models.PriorityNormal,
		CreatedAt:    now,
		LastActivity: now,
	}, nil
}

func (s *Service) duplicateRoom(ctx context.Context, customerID string) error {
	existing, err := s.store.FindActiveRoom(ctx, customerID)
	if err != nil {
		return ErrDuplicateActiveRoom
	}
	return &DuplicateRoomError{RoomID: existing.RoomID}
}

// PostMessage stores a message and broadcasts it. Customers cannot post to
// CLOSED rooms; agents can.
func (s *Service) PostMessage(ctx context.Context, actor Actor, roomID string, in MessageInput) (*models.ChatMessage, error) {
	if !validRoomID(roomID) {
		return nil, ErrNotFound
	}
	msg, err := s.newMessage(ctx, actor, in)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.authorize(ctx, actor, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status == models.RoomClosed && actor.Role == models.RoleCustomer {
		return nil, ErrRoomClosed
	}

	msg.RoomID = roomID
	msg.CreatedAt = s.now()
	updated, err := s.store.AppendMessage(ctx, msg, msg.Preview(config.PreviewLength))
	if err != nil {
		return nil, mapStoreErr(err)
	}
	s.publish(ctx, s.tracker.OnMessagePosted(updated, msg))
	return msg, nil
}

// newMessage validates in, applies the sender's rate limit and snapshots
// the referenced product. Nothing is stored.
func (s *Service) newMessage(ctx context.Context, actor Actor, in MessageInput) (*models.ChatMessage, error) {
	msgType, body, err := validateMessage(in)
	if err != nil {
		return nil, err
	}
	if err := s.checkRate(ctx, actor); err != nil {
		return nil, err
	}

	msg := &models.ChatMessage{
		SenderID:   actor.ID,
		SenderRole: actor.Role,
		Body:       body,
		Type:       msgType,
		CreatedAt:  s.now(),
	}
	if in.ProductID != nil {
		product, err := s.store.GetProduct(ctx, *in.ProductID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, invalid("unknown product %d", *in.ProductID)
		}
		if err != nil {
			return nil, err
		}
		msg.Product = datatypes.NewJSONType(product.Ref())
	}
	return msg, nil
}

// ListRooms returns agents every room matching filter and customers only their own.
func (s *Service) ListRooms(ctx context.Context, actor Actor, filter storage.RoomFilter) ([]models.ChatRoom, error) {
	if !actor.IsAgent() {
		filter.CustomerID = actor.ID
	}
	rooms, err := s.store.ListRooms(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		rooms[i].ForViewer(actor.Role)
	}
	return rooms, nil
}

// GetRoomWithHistory returns the room and its messages in id order. Without
// a limit the whole history after AfterID is returned.
func (s *Service) GetRoomWithHistory(ctx context.Context, actor Actor, roomID string, page History) (*models.ChatRoom, []models.ChatMessage, error) {
	if !validRoomID(roomID) {
		return nil, nil, ErrNotFound
	}
	room, err := s.authorize(ctx, actor, roomID)
	if err != nil {
		return nil, nil, err
	}

	limit := page.Limit
	if limit > config.MaxHistoryPage {
		limit = config.MaxHistoryPage
	}
	msgs, err := s.store.ListMessages(ctx, roomID, page.AfterID, limit)
	if err != nil {
		return nil, nil, err
	}
	for i := range msgs {
		msgs[i].IsRead = msgs[i].ID <= room.ReadUpToFor(msgs[i].SenderRole.Counterpart())
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	return room.ForViewer(actor.Role), msgs, nil
}

// UpdateRoom applies an agent edit and announces it as ROOM_UPDATED on the
// global topic and on the room's own topic.
func (s *Service) UpdateRoom(ctx context.Context, actor Actor, roomID string, patch RoomPatch) (*models.ChatRoom, error) {
	if !actor.IsAgent() {
		return nil, ErrForbidden
	}
	if !validRoomID(roomID) {
		return nil, ErrNotFound
	}
	change := models.RoomChange{
		Status:   patch.Status,
		Priority: patch.Priority,
		AgentID:  patch.AgentID,
		Tags:     patch.Tags,
	}
	if change.Empty() {
		return nil, invalid("nothing to update")
	}

	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.store.UpdateRoom(ctx, roomID, storage.RoomUpdate{
		Status:   patch.Status,
		Priority: patch.Priority,
		AgentID:  patch.AgentID,
		Tags:     patch.Tags,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateActiveRoom) {
			return nil, invalid("customer already has another active room")
		}
		return nil, mapStoreErr(err)
	}

	ev := models.NewRoomUpdatedEvent(roomID, change)
	s.publish(ctx, []outbound{
		{topic: chathub.GlobalTopic, event: ev},
		{topic: chathub.RoomTopic(roomID), event: ev},
	})
	log.Printf("INFO: [Support] Room %s updated by %s.", roomID, actor.ID)
	return room.ForViewer(actor.Role), nil
}

func (s *Service) UpdateRoomStatus(ctx context.Context, actor Actor, roomID string, status models.RoomStatus) (*models.ChatRoom, error) {
	return s.UpdateRoom(ctx, actor, roomID, RoomPatch{Status: &status})
}

func (s *Service) UpdateRoomPriority(ctx context.Context, actor Actor, roomID string, priority models.Priority) (*models.ChatRoom, error) {
	return s.UpdateRoom(ctx, actor, roomID, RoomPatch{Priority: &priority})
}

// AssignAgent sets the room's agent; an empty agentID unassigns it.
func (s *Service) AssignAgent(ctx context.Context, actor Actor, roomID, agentID string) (*models.ChatRoom, error) {
	return s.UpdateRoom(ctx, actor, roomID, RoomPatch{AgentID: &agentID})
}

// MarkRoomRead resets the caller's unread counter and returns it (always 0).
func (s *Service) MarkRoomRead(ctx context.Context, actor Actor, roomID string) (int, error) {
	if !validRoomID(roomID) {
		return 0, ErrNotFound
	}

	unlock := s.locks.Lock(roomID)
	defer unlock()

	if _, err := s.authorize(ctx, actor, roomID); err != nil {
		return 0, err
	}
	room, events, err := s.tracker.MarkRoomRead(ctx, roomID, actor.Role)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	s.publish(ctx, events)
	return room.UnreadFor(actor.Role), nil
}

// UnreadSummary totals the caller's unread messages.
func (s *Service) UnreadSummary(ctx context.Context, actor Actor) (int, error) {
	return s.tracker.UnreadSummary(ctx, actor.Role, actor.ID)
}

// AuthorizeRoom checks that actor may see roomID, for stream subscriptions.
func (s *Service) AuthorizeRoom(ctx context.Context, actor Actor, roomID string) (*models.ChatRoom, error) {
	if !validRoomID(roomID) {
		return nil, ErrNotFound
	}
	return s.authorize(ctx, actor, roomID)
}

func (s *Service) authorize(ctx context.Context, actor Actor, roomID string) (*models.ChatRoom, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !actor.IsAgent() && room.CustomerID != actor.ID {
		return nil, ErrForbidden
	}
	return room, nil
}

func (s *Service) checkRate(ctx context.Context, actor Actor) error {
	if s.limiter == nil || actor.IsAgent() {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, actor.ID)
	if err != nil {
		log.Printf("ERROR: [Support] Rate limiter unavailable, allowing message: %v", err)
		return nil
	}
	if !allowed {
		return ErrRateLimited
	}
	return nil
}

func (s *Service) publish(ctx context.Context, events []outbound) {
	for _, out := range events {
		s.hub.Publish(ctx, out.topic, out.event)
	}
}

func validateMessage(in MessageInput) (models.MessageType, string, error) {
	msgType, ok := models.ParseMessageType(in.Type)
	if !ok {
		return "", "", invalid("unknown message type %q", in.Type)
	}
	body := strings.TrimSpace(in.Body)
	if msgType == models.MessageProduct && in.ProductID == nil {
		return "", "", invalid("product message requires productId")
	}
	if body == "" && msgType != models.MessageProduct {
		return "", "", invalid("message body is empty")
	}
	if utf8.RuneCountInString(body) > config.MaxMessageBodyLength {
		return "", "", invalid("message body exceeds %d characters", config.MaxMessageBodyLength)
	}
	return msgType, body, nil
}

func validRoomID(roomID string) bool {
	_, err := uuid.Parse(roomID)
	return err == nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
