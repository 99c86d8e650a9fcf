package storage

import (
	"context"
	"errors"
	"log"
	"strings"
	"supportchat/backend/internal/models"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service is the PostgreSQL implementation of Storage.
// The *gorm.DB must be opened with TranslateError enabled so unique
// violations surface as gorm.ErrDuplicatedKey.
type Service struct {
	DB *gorm.DB
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// SaveUser records a participant on first contact and afterwards keeps
// the stored name and email in step with the identity provider.
func (s *Service) SaveUser(ctx context.Context, user *models.User) error {
	var existing models.User
	result := s.DB.WithContext(ctx).
		Attrs(models.User{Name: user.Name, Email: user.Email, Role: user.Role}).
		FirstOrCreate(&existing, models.User{ID: user.ID})
	if result.Error != nil {
		log.Printf("ERROR: Failed to save user %s on first contact: %v", user.ID, result.Error)
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("INFO: [Storage] New %s %s saved to database.", existing.Role, existing.ID)
		return nil
	}

	changes := profileChanges(&existing, user)
	if len(changes) == 0 {
		return nil
	}
	if err := s.DB.WithContext(ctx).Model(&existing).Updates(changes).Error; err != nil {
		log.Printf("ERROR: Failed to update profile of user %s: %v", user.ID, err)
		return err
	}
	return nil
}

func (s *Service) CreateRoom(ctx context.Context, room *models.ChatRoom) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.ChatRoom
		err := tx.Where("customer_id = ? AND status <> ?", room.CustomerID, models.RoomClosed).First(&existing).Error
		if err == nil {
			return ErrDuplicateActiveRoom
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(room).Error
	})
	return translate(err)
}

func (s *Service) FindActiveRoom(ctx context.Context, customerID string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.DB.WithContext(ctx).
		Where("customer_id = ? AND status <> ?", customerID, models.RoomClosed).
		First(&room).Error
	if err != nil {
		return nil, translate(err)
	}
	return &room, nil
}

func (s *Service) GetRoom(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.DB.WithContext(ctx).Preload("Customer").Where("room_id = ?", roomID).First(&room).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("ERROR: Failed to get room %s: %v", roomID, err)
		}
		return nil, translate(err)
	}
	return &room, nil
}

// ListRooms returns rooms ordered by last activity, newest first.
func (s *Service) ListRooms(ctx context.Context, filter RoomFilter) ([]models.ChatRoom, error) {
	q := s.DB.WithContext(ctx).Model(&models.ChatRoom{}).Select("chat_rooms.*").Preload("Customer")
	if filter.Status != "" {
		q = q.Where("chat_rooms.status = ?", filter.Status)
	}
	if filter.Priority != "" {
		q = q.Where("chat_rooms.priority = ?", filter.Priority)
	}
	if filter.CustomerID != "" {
		q = q.Where("chat_rooms.customer_id = ?", filter.CustomerID)
	}
	if filter.AgentID != "" {
		q = q.Where("chat_rooms.agent_id = ?", filter.AgentID)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + escapeLike(search) + "%"
		q = q.Joins("LEFT JOIN users ON users.id = chat_rooms.customer_id").
			Where("chat_rooms.subject ILIKE ? OR users.name ILIKE ? OR users.email ILIKE ?", like, like, like)
	}

	var rooms []models.ChatRoom
	if err := q.Order("chat_rooms.last_activity DESC").Find(&rooms).Error; err != nil {
		log.Printf("ERROR: Failed to list rooms: %v", err)
		return nil, err
	}
	return rooms, nil
}

func (s *Service) UpdateRoom(ctx context.Context, roomID string, upd RoomUpdate) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRoom(tx, roomID, &room); err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if upd.Status != nil {
			updates["status"] = *upd.Status
			room.Status = *upd.Status
		}
		if upd.Priority != nil {
			updates["priority"] = *upd.Priority
			room.Priority = *upd.Priority
		}
		if upd.AgentID != nil {
			if *upd.AgentID == "" {
				updates["agent_id"] = nil
				room.AgentID = nil
			} else {
				agent := *upd.AgentID
				updates["agent_id"] = agent
				room.AgentID = &agent
			}
		}
		if upd.Tags != nil {
			updates["tags"] = pq.StringArray(upd.Tags)
			room.Tags = pq.StringArray(upd.Tags)
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&models.ChatRoom{}).Where("room_id = ?", roomID).Updates(updates).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &room, nil
}

func (s *Service) AppendMessage(ctx context.Context, msg *models.ChatMessage, preview string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRoom(tx, msg.RoomID, &room); err != nil {
			return err
		}
		return appendMessage(tx, &room, msg, preview)
	})
	if err != nil {
		log.Printf("ERROR: Failed to save message for room %s: %v", msg.RoomID, err)
		return nil, translate(err)
	}
	return &room, nil
}

// OpenRoom inserts room and its first message in one transaction.
func (s *Service) OpenRoom(ctx context.Context, room *models.ChatRoom, first *models.ChatMessage, preview string) (*models.ChatRoom, error) {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.ChatRoom
		err := tx.Where("customer_id = ? AND status <> ?", room.CustomerID, models.RoomClosed).First(&existing).Error
		if err == nil {
			return ErrDuplicateActiveRoom
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Create(room).Error; err != nil {
			return err
		}
		first.RoomID = room.RoomID
		return appendMessage(tx, room, first, preview)
	})
	if err != nil {
		return nil, translate(err)
	}
	opened := *room
	return &opened, nil
}

// appendMessage inserts msg into the locked room and moves its activity,
// preview and the recipient's unread counter.
func appendMessage(tx *gorm.DB, room *models.ChatRoom, msg *models.ChatMessage, preview string) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.CreatedAt.Before(room.LastActivity) {
		msg.CreatedAt = room.LastActivity
	}
	if err := tx.Create(msg).Error; err != nil {
		return err
	}

	recipient := msg.SenderRole.Counterpart()
	col := unreadColumn(recipient)
	err := tx.Model(&models.ChatRoom{}).Where("room_id = ?", room.RoomID).Updates(map[string]interface{}{
		"last_activity":        msg.CreatedAt,
		"last_message_preview": preview,
		"last_message_id":      msg.ID,
		col:                    gorm.Expr(col + " + 1"),
	}).Error
	if err != nil {
		return err
	}

	room.LastActivity = msg.CreatedAt
	room.LastMessagePreview = preview
	room.LastMessageID = msg.ID
	if recipient == models.RoleAgent {
		room.AgentUnread++
	} else {
		room.CustomerUnread++
	}
	return nil
}

func (s *Service) ListMessages(ctx context.Context, roomID string, afterID uint, limit int) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	q := s.DB.WithContext(ctx).Where("room_id = ? AND id > ?", roomID, afterID).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		log.Printf("ERROR: Failed to get chat history for room %s: %v", roomID, err)
		return nil, err
	}
	return msgs, nil
}

func (s *Service) MarkRead(ctx context.Context, roomID string, reader models.Role) (*models.ChatRoom, bool, error) {
	var room models.ChatRoom
	changed := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRoom(tx, roomID, &room); err != nil {
			return err
		}
		if room.UnreadFor(reader) == 0 && room.ReadUpToFor(reader) == room.LastMessageID {
			return nil
		}
		changed = room.UnreadFor(reader) > 0

		err := tx.Model(&models.ChatRoom{}).Where("room_id = ?", roomID).Updates(map[string]interface{}{
			unreadColumn(reader):    0,
			watermarkColumn(reader): room.LastMessageID,
		}).Error
		if err != nil {
			return err
		}
		if reader == models.RoleAgent {
			room.AgentUnread, room.AgentReadUpTo = 0, room.LastMessageID
		} else {
			room.CustomerUnread, room.CustomerReadUpTo = 0, room.LastMessageID
		}
		return nil
	})
	if err != nil {
		return nil, false, translate(err)
	}
	return &room, changed, nil
}

// UnreadTotal sums the persisted counters, so it costs one aggregate query.
func (s *Service) UnreadTotal(ctx context.Context, role models.Role, participantID string) (int, error) {
	var total int64
	q := s.DB.WithContext(ctx).Model(&models.ChatRoom{})
	if role == models.RoleCustomer {
		q = q.Where("customer_id = ?", participantID)
	}
	err := q.Select("COALESCE(SUM(" + unreadColumn(role) + "), 0)").Scan(&total).Error
	return int(total), err
}

func (s *Service) GetProduct(ctx context.Context, id uint) (*models.Product, error) {
	var p models.Product
	if err := s.DB.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func lockRoom(tx *gorm.DB, roomID string, room *models.ChatRoom) error {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("room_id = ?", roomID).First(room).Error
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateActiveRoom
	}
	return err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
