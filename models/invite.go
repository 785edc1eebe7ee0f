package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// TeamInvitation lets a team admin invite someone by email.
type TeamInvitation struct {
	Base
	TeamID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"team_id"`
	Team       *Team      `gorm:"foreignKey:TeamID" json:"team,omitempty"`
	Email      string     `gorm:"not null;size:255" json:"email"`
	Role       TeamRole   `gorm:"not null;size:20" json:"role"`
	Code       string     `gorm:"uniqueIndex;not null;size:64" json:"-"`
	InvitedBy  *uuid.UUID `gorm:"type:uuid" json:"invited_by,omitempty"`
	ExpiresAt  time.Time  `gorm:"not null" json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}

func GenerateInviteCode() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func (i *TeamInvitation) IsValid() bool {
	return i.AcceptedAt == nil && time.Now().Before(i.ExpiresAt)
}
