package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role tags every participant and every message sender.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAgent    Role = "AGENT"
)

func ParseRole(raw string) (Role, bool) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(raw))); r {
	case RoleCustomer, RoleAgent:
		return r, true
	}
	return "", false
}

// Counterpart returns the other side of a room.
func (r Role) Counterpart() Role {
	if r == RoleAgent {
		return RoleCustomer
	}
	return RoleAgent
}

// User is a chat participant as known from the platform's identity.
type User struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:text" json:"name"`
	Email     string    `gorm:"type:text;index" json:"email"`
	Role      Role      `gorm:"type:text;not null" json:"role"`
	CreatedAt time.Time `json:"-"`
}

// BeforeCreate generates a UUID when the identity did not carry one.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}
