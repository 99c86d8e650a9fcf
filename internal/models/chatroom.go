package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// RoomStatus is the lifecycle state of a support room.
type RoomStatus string

const (
	RoomOpen     RoomStatus = "OPEN"
	RoomResolved RoomStatus = "RESOLVED"
	RoomClosed   RoomStatus = "CLOSED"
)

// Active reports whether the room still counts as the customer's current room.
func (s RoomStatus) Active() bool {
	return s == RoomOpen || s == RoomResolved
}

// ParseRoomStatus accepts the status name in any case.
func ParseRoomStatus(raw string) (RoomStatus, bool) {
	switch s := RoomStatus(strings.ToUpper(strings.TrimSpace(raw))); s {
	case RoomOpen, RoomResolved, RoomClosed:
		return s, true
	}
	return "", false
}

// Priority orders rooms for agents.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func ParsePriority(raw string) (Priority, bool) {
	switch p := Priority(strings.ToUpper(strings.TrimSpace(raw))); p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, true
	}
	return "", false
}

// ChatRoom is a support conversation owned by exactly one customer.
// A customer can hold at most one room that is not CLOSED; the partial
// unique index enforces that at the database level.
type ChatRoom struct {
	// RoomID is the unique identifier for the room (UUID).
	RoomID string `gorm:"primaryKey;type:uuid" json:"id"`
	// CustomerID owns the room.
	CustomerID string `gorm:"type:text;not null;index;uniqueIndex:idx_rooms_one_active,where:status <> 'CLOSED'" json:"customerId"`
	Customer   *User  `gorm:"foreignKey:CustomerID;references:ID" json:"customer,omitempty"`
	// AgentID is the assigned agent, nil while unassigned.
	AgentID  *string    `gorm:"type:text;index" json:"agentId,omitempty"`
	Subject  string     `gorm:"type:text" json:"subject"`
	Status   RoomStatus `gorm:"type:text;not null;index" json:"status"`
	Priority Priority   `gorm:"type:text;not null" json:"priority"`
	// Tags are free-form labels set by agents.
	Tags pq.StringArray `gorm:"type:text[]" json:"tags"`

	CreatedAt          time.Time `json:"createdAt"`
	LastActivity       time.Time `gorm:"not null;index" json:"lastActivity"`
	LastMessagePreview string    `gorm:"type:text" json:"lastMessagePreview"`
	LastMessageID      uint      `json:"lastMessageId"`

	// Unread counters per side. CustomerUnread counts agent-authored messages
	// since the customer last read the room, AgentUnread the reverse.
	CustomerUnread int `gorm:"not null" json:"-"`
	AgentUnread    int `gorm:"not null" json:"-"`
	// Read watermarks: highest message id each side has seen.
	CustomerReadUpTo uint `gorm:"not null" json:"-"`
	AgentReadUpTo    uint `gorm:"not null" json:"-"`

	// Viewer-relative fields, filled by ForViewer.
	UnreadCount int  `gorm:"-" json:"unreadCount"`
	IsRead      bool `gorm:"-" json:"isRead"`
}

// BeforeCreate assigns a fresh UUID when RoomID is empty.
func (r *ChatRoom) BeforeCreate(tx *gorm.DB) (err error) {
	if r.RoomID == "" {
		r.RoomID = uuid.New().String()
	}
	return
}

// UnreadFor returns the counter that belongs to the given side.
func (r *ChatRoom) UnreadFor(role Role) int {
	if role == RoleAgent {
		return r.AgentUnread
	}
	return r.CustomerUnread
}

// ReadUpToFor returns the read watermark of the given side.
func (r *ChatRoom) ReadUpToFor(role Role) uint {
	if role == RoleAgent {
		return r.AgentReadUpTo
	}
	return r.CustomerReadUpTo
}

// ForViewer fills UnreadCount and IsRead from the viewer's side of the room.
func (r *ChatRoom) ForViewer(role Role) *ChatRoom {
	r.UnreadCount = r.UnreadFor(role)
	r.IsRead = r.UnreadCount == 0
	return r
}
