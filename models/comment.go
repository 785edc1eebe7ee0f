package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Comment struct {
	Base
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	TaskID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"task_id"`
	UserID    *uuid.UUID     `gorm:"type:uuid" json:"user_id"`
	User      *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	ParentID  *uuid.UUID     `gorm:"type:uuid" json:"parent_id,omitempty"`
	Content   string         `gorm:"type:text;not null" json:"content"`
	IsEdited  bool           `json:"is_edited"`
}
