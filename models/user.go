package models

import (
	"time"

	"gorm.io/gorm"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type User struct {
	Base
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
	Email        string         `gorm:"uniqueIndex;not null;size:255" json:"email"`
	Username     string         `gorm:"uniqueIndex;not null;size:100" json:"username"`
	FullName     string         `gorm:"size:200" json:"full_name"`
	PasswordHash string         `gorm:"not null" json:"-"`
	Role         Role           `gorm:"not null;size:20" json:"role"`
	AvatarURL    string         `gorm:"size:500" json:"avatar_url,omitempty"`
	IsActive     bool           `json:"is_active"`
	LastLoginAt  *time.Time     `json:"last_login_at,omitempty"`
}

func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
