package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	NotificationTaskAssigned  = "task_assigned"
	NotificationTaskUpdated   = "task_updated"
	NotificationTaskComment   = "task_comment"
	NotificationTaskMember    = "task_member"
	NotificationTaskOverdue   = "task_overdue"
	NotificationEventReminder = "event_reminder"
	NotificationTeamInvite    = "team_invite"
)

type Notification struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	Type       string     `gorm:"not null;size:50" json:"type"`
	Title      string     `gorm:"not null;size:255" json:"title"`
	Message    string     `gorm:"type:text" json:"message"`
	EntityType string     `gorm:"size:50" json:"entity_type,omitempty"`
	EntityID   *uuid.UUID `gorm:"type:uuid" json:"entity_id,omitempty"`
	IsRead     bool       `json:"is_read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
