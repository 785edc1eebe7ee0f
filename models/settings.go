package models

import (
	"github.com/google/uuid"
)

type UserSetting struct {
	Base
	UserID             uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	Theme              string    `gorm:"not null;size:20" json:"theme"`
	Language           string    `gorm:"not null;size:10" json:"language"`
	Timezone           string    `gorm:"not null;size:64" json:"timezone"`
	EmailNotifications bool      `json:"email_notifications"`
	PushNotifications  bool      `json:"push_notifications"`
	Preferences        JSONMap   `gorm:"type:jsonb;serializer:json" json:"preferences"`
}

// DefaultUserSetting is what a user gets before saving anything.
func DefaultUserSetting(userID uuid.UUID) UserSetting {
	return UserSetting{
		UserID:             userID,
		Theme:              "system",
		Language:           "en",
		Timezone:           "UTC",
		EmailNotifications: true,
		PushNotifications:  true,
		Preferences:        JSONMap{},
	}
}

type SystemSetting struct {
	Base
	Key         string     `gorm:"uniqueIndex;not null;size:100" json:"key"`
	Value       string     `gorm:"type:text" json:"value"`
	Description string     `gorm:"type:text" json:"description"`
	IsPublic    bool       `json:"is_public"`
	UpdatedBy   *uuid.UUID `gorm:"type:uuid" json:"updated_by,omitempty"`
}
