package storage

import (
	"context"
	"errors"
	"supportchat/backend/internal/models"

	"gorm.io/gorm"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrDuplicateActiveRoom = errors.New("customer already has an active room")
)

// RoomFilter narrows ListRooms. Zero values match everything.
type RoomFilter struct {
	Status     models.RoomStatus
	Priority   models.Priority
	Search     string // substring of subject, customer name or email
	CustomerID string
	AgentID    string
}

// RoomUpdate carries agent edits. Nil fields are left untouched;
// an empty AgentID unassigns the room.
type RoomUpdate struct {
	Status   *models.RoomStatus
	Priority *models.Priority
	AgentID  *string
	Tags     []string
}

// Storage is the persistence boundary of the chat subsystem.
type Storage interface {
	// SaveUser inserts the participant if missing, otherwise updates a
	// changed name or email. The role is never changed.
	SaveUser(ctx context.Context, user *models.User) error

	// CreateRoom inserts a new room. It fails with ErrDuplicateActiveRoom when
	// the customer already owns a room that is not CLOSED.
	CreateRoom(ctx context.Context, room *models.ChatRoom) error
	FindActiveRoom(ctx context.Context, customerID string) (*models.ChatRoom, error)
	GetRoom(ctx context.Context, roomID string) (*models.ChatRoom, error)
	ListRooms(ctx context.Context, filter RoomFilter) ([]models.ChatRoom, error)
	UpdateRoom(ctx context.Context, roomID string, upd RoomUpdate) (*models.ChatRoom, error)

	// AppendMessage stores msg, assigns its ID and moves the room's
	// last activity, preview and the recipient's unread counter in the
	// same transaction. msg.CreatedAt is clamped to never precede the
	// room's last activity. The updated room is returned.
	AppendMessage(ctx context.Context, msg *models.ChatMessage, preview string) (*models.ChatRoom, error)
	// OpenRoom is CreateRoom and AppendMessage of the first message as one
	// unit: either both are stored or neither is.
	OpenRoom(ctx context.Context, room *models.ChatRoom, first *models.ChatMessage, preview string) (*models.ChatRoom, error)
	// ListMessages returns messages with id > afterID ordered by id. A limit
	// of 0 or less returns all of them.
	ListMessages(ctx context.Context, roomID string, afterID uint, limit int) ([]models.ChatMessage, error)

	// MarkRead resets the reader's counter and moves its watermark to the
	// latest message. changed is false when nothing was unread.
	MarkRead(ctx context.Context, roomID string, reader models.Role) (room *models.ChatRoom, changed bool, err error)
	UnreadTotal(ctx context.Context, role models.Role, participantID string) (int, error)

	GetProduct(ctx context.Context, id uint) (*models.Product, error)
}

// Migrate creates or updates the chat tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.ChatRoom{},
		&models.ChatMessage{},
		&models.Product{},
	)
}

// profileChanges lists the non-empty profile fields of incoming that differ
// from stored.
func profileChanges(stored, incoming *models.User) map[string]interface{} {
	changes := map[string]interface{}{}
	if incoming.Name != "" && incoming.Name != stored.Name {
		changes["name"] = incoming.Name
	}
	if incoming.Email != "" && incoming.Email != stored.Email {
		changes["email"] = incoming.Email
	}
	return changes
}

func unreadColumn(role models.Role) string {
	if role == models.RoleAgent {
		return "agent_unread"
	}
	return "customer_unread"
}

func watermarkColumn(role models.Role) string {
	if role == models.RoleAgent {
		return "agent_read_up_to"
	}
	return "customer_read_up_to"
}
