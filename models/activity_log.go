package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
	ActionAdded   = "member_added"
	ActionRemoved = "member_removed"
)

// ActivityLog is append-only; it has no UpdatedAt.
type ActivityLog struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	TeamID      *uuid.UUID `gorm:"type:uuid;index" json:"team_id,omitempty"`
	UserID      *uuid.UUID `gorm:"type:uuid" json:"user_id,omitempty"`
	User        *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	EntityType  string     `gorm:"not null;size:50" json:"entity_type"`
	EntityID    uuid.UUID  `gorm:"type:uuid;not null" json:"entity_id"`
	Action      string     `gorm:"not null;size:50" json:"action"`
	Description string     `gorm:"type:text" json:"description"`
	Metadata    JSONMap    `gorm:"type:jsonb;serializer:json" json:"metadata,omitempty"`
	IPAddress   string     `gorm:"size:64" json:"ip_address,omitempty"`
}

func (a *ActivityLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
