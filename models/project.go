package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProjectStatus string

const (
	ProjectStatusPlanning  ProjectStatus = "planning"
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusOnHold    ProjectStatus = "on_hold"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusArchived  ProjectStatus = "archived"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

type Project struct {
	Base
	DeletedAt   gorm.DeletedAt  `gorm:"index" json:"-"`
	TeamID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"team_id"`
	Team        *Team           `gorm:"foreignKey:TeamID" json:"team,omitempty"`
	OwnerID     *uuid.UUID      `gorm:"type:uuid" json:"owner_id"`
	Owner       *User           `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Name        string          `gorm:"not null;size:150" json:"name"`
	Description string          `gorm:"type:text" json:"description"`
	Status      ProjectStatus   `gorm:"not null;size:20" json:"status"`
	Priority    Priority        `gorm:"not null;size:20" json:"priority"`
	Color       string          `gorm:"size:7" json:"color,omitempty"`
	StartDate   *time.Time      `gorm:"type:date" json:"start_date,omitempty"`
	EndDate     *time.Time      `gorm:"type:date" json:"end_date,omitempty"`
	Members     []ProjectMember `gorm:"foreignKey:ProjectID" json:"members,omitempty"`
}

type ProjectRole string

const (
	ProjectRoleManager     ProjectRole = "manager"
	ProjectRoleContributor ProjectRole = "contributor"
	ProjectRoleViewer      ProjectRole = "viewer"
)

type ProjectMember struct {
	Base
	ProjectID uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex:idx_project_members_project_user" json:"project_id"`
	UserID    uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex:idx_project_members_project_user" json:"user_id"`
	User      *User       `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role      ProjectRole `gorm:"not null;size:20" json:"role"`
}
