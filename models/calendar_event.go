package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EventType string

const (
	EventMeeting   EventType = "meeting"
	EventDeadline  EventType = "deadline"
	EventMilestone EventType = "milestone"
	EventReminder  EventType = "reminder"
	EventOther     EventType = "other"
)

type CalendarEvent struct {
	Base
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
	TeamID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"team_id"`
	ProjectID       *uuid.UUID     `gorm:"type:uuid" json:"project_id,omitempty"`
	TaskID          *uuid.UUID     `gorm:"type:uuid" json:"task_id,omitempty"`
	CreatedBy       *uuid.UUID     `gorm:"type:uuid" json:"created_by,omitempty"`
	Title           string         `gorm:"not null;size:255" json:"title"`
	Description     string         `gorm:"type:text" json:"description"`
	Location        string         `gorm:"size:255" json:"location,omitempty"`
	EventType       EventType      `gorm:"not null;size:20" json:"event_type"`
	StartTime       time.Time      `gorm:"not null" json:"start_time"`
	EndTime         time.Time      `gorm:"not null" json:"end_time"`
	AllDay          bool           `json:"all_day"`
	ReminderMinutes *int           `json:"reminder_minutes,omitempty"`
	ReminderSent    bool           `json:"reminder_sent"`
}

// ReminderDue reports whether the reminder should fire at now.
func (e *CalendarEvent) ReminderDue(now time.Time) bool {
	if e.ReminderMinutes == nil || e.ReminderSent || !e.StartTime.After(now) {
		return false
	}
	remindAt := e.StartTime.Add(-time.Duration(*e.ReminderMinutes) * time.Minute)
	return !remindAt.After(now)
}
