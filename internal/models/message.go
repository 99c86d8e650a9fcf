package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// MessageType tells clients how to render a message body.
type MessageType string

const (
	MessageText    MessageType = "TEXT"
	MessageProduct MessageType = "PRODUCT"
	MessageImage   MessageType = "IMAGE"
	MessageFile    MessageType = "FILE"
)

func ParseMessageType(raw string) (MessageType, bool) {
	if strings.TrimSpace(raw) == "" {
		return MessageText, true
	}
	switch t := MessageType(strings.ToUpper(strings.TrimSpace(raw))); t {
	case MessageText, MessageProduct, MessageImage, MessageFile:
		return t, true
	}
	return "", false
}

// ChatMessage is a single immutable message in a room.
// ID is assigned by the store and strictly increases, so clients use it
// both for ordering and for de-duplication.
type ChatMessage struct {
	ID         uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID     string      `gorm:"type:uuid;not null;index:idx_room_msg" json:"roomId"`
	SenderID   string      `gorm:"type:text;not null" json:"senderId"`
	SenderRole Role        `gorm:"type:text;not null" json:"senderRole"`
	Body       string      `gorm:"type:text;not null" json:"body"`
	Type       MessageType `gorm:"type:text;not null" json:"type"`
	// Product is a snapshot of the catalog entry at send time, JSON null otherwise.
	Product   datatypes.JSONType[*ProductRef] `gorm:"type:jsonb" json:"product"`
	CreatedAt time.Time                       `json:"createdAt"`

	// IsRead is computed against the recipient's read watermark.
	IsRead bool `gorm:"-" json:"isRead"`
}

// ProductRef returns the attached product snapshot or nil.
func (m *ChatMessage) ProductRef() *ProductRef {
	return m.Product.Data()
}

// Preview is the text shown in room lists for this message.
func (m *ChatMessage) Preview(limit int) string {
	text := m.Body
	if p := m.ProductRef(); p != nil && m.Type == MessageProduct && strings.TrimSpace(text) == "" {
		text = p.Name
	}
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if limit > 0 && len(runes) > limit {
		return string(runes[:limit]) + "…"
	}
	return text
}
