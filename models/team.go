package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TeamStatus string

const (
	TeamStatusActive   TeamStatus = "active"
	TeamStatusArchived TeamStatus = "archived"
)

type Team struct {
	Base
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	Name        string         `gorm:"not null;size:100" json:"name"`
	Slug        string         `gorm:"uniqueIndex;not null;size:120" json:"slug"`
	Description string         `gorm:"type:text" json:"description"`
	OwnerID     *uuid.UUID     `gorm:"type:uuid;index" json:"owner_id"`
	Owner       *User          `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Status      TeamStatus     `gorm:"not null;size:20" json:"status"`
	Members     []TeamMember   `gorm:"foreignKey:TeamID" json:"members,omitempty"`
}
