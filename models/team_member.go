package models

import (
	"time"

	"github.com/google/uuid"
)

type TeamRole string

const (
	TeamRoleOwner  TeamRole = "owner"
	TeamRoleAdmin  TeamRole = "admin"
	TeamRoleMember TeamRole = "member"
	TeamRoleViewer TeamRole = "viewer"
)

// TeamMember is one user's membership in one team.
type TeamMember struct {
	Base
	TeamID    uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_team_members_team_user" json:"team_id"`
	Team      *Team      `gorm:"foreignKey:TeamID" json:"team,omitempty"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_team_members_team_user" json:"user_id"`
	User      *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role      TeamRole   `gorm:"not null;size:20" json:"role"`
	InvitedBy *uuid.UUID `gorm:"type:uuid" json:"invited_by,omitempty"`
	JoinedAt  time.Time  `json:"joined_at"`
}

func (m *TeamMember) IsOwner() bool {
	return m.Role == TeamRoleOwner
}

// CanManage reports whether the member may change team settings and membership.
func (m *TeamMember) CanManage() bool {
	return m.Role == TeamRoleOwner || m.Role == TeamRoleAdmin
}

// CanWrite reports whether the member may create and edit team content.
func (m *TeamMember) CanWrite() bool {
	return m.Role != TeamRoleViewer
}
