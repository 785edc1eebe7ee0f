package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// IsClosed reports whether no more work is expected on a task in this status.
func (s TaskStatus) IsClosed() bool {
	return s == TaskStatusDone || s == TaskStatusCancelled
}

type Task struct {
	Base
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
	ProjectID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"project_id"`
	Project           *Project       `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	ParentTaskID      *uuid.UUID     `gorm:"type:uuid" json:"parent_task_id,omitempty"`
	Title             string         `gorm:"not null;size:255" json:"title"`
	Status            TaskStatus     `gorm:"not null;size:20" json:"status"`
	Priority          Priority       `gorm:"not null;size:20" json:"priority"`
	AssigneeID        *uuid.UUID     `gorm:"type:uuid;index" json:"assignee_id,omitempty"`
	Assignee          *User          `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
	ReporterID        *uuid.UUID     `gorm:"type:uuid" json:"reporter_id,omitempty"`
	Reporter          *User          `gorm:"foreignKey:ReporterID" json:"reporter,omitempty"`
	DueDate           *time.Time     `json:"due_date,omitempty"`
	Position          int            `json:"position"`
	EstimatedHours    *float64       `json:"estimated_hours,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	OverdueNotifiedAt *time.Time     `json:"-"`
	Details           *TaskDetail    `gorm:"foreignKey:TaskID" json:"details,omitempty"`
	Members           []TaskMember   `gorm:"foreignKey:TaskID" json:"members,omitempty"`
}

// SetStatus moves the task to status and keeps CompletedAt in step with it.
func (t *Task) SetStatus(status TaskStatus, now time.Time) {
	t.Status = status
	if status == TaskStatusDone {
		if t.CompletedAt == nil {
			t.CompletedAt = &now
		}
		return
	}
	t.CompletedAt = nil
}

func (t *Task) IsOverdue(now time.Time) bool {
	return t.DueDate != nil && t.DueDate.Before(now) && !t.Status.IsClosed()
}

type TaskDetail struct {
	Base
	TaskID             uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"task_id"`
	Description        string    `gorm:"type:text" json:"description"`
	AcceptanceCriteria string    `gorm:"type:text" json:"acceptance_criteria"`
	Labels             []string  `gorm:"type:jsonb;serializer:json" json:"labels"`
	Metadata           JSONMap   `gorm:"type:jsonb;serializer:json" json:"metadata"`
}

type TaskMemberRole string

const (
	TaskMemberAssignee TaskMemberRole = "assignee"
	TaskMemberReviewer TaskMemberRole = "reviewer"
	TaskMemberWatcher  TaskMemberRole = "watcher"
)

type TaskMember struct {
	Base
	TaskID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_task_members_task_user" json:"task_id"`
	UserID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_task_members_task_user" json:"user_id"`
	User   *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role   TaskMemberRole `gorm:"not null;size:20" json:"role"`
}

// TaskChat is one message in a task's live chat.
type TaskChat struct {
	Base
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	TaskID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"task_id"`
	UserID    *uuid.UUID     `gorm:"type:uuid" json:"user_id"`
	User      *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	ReplyToID *uuid.UUID     `gorm:"type:uuid" json:"reply_to_id,omitempty"`
	Message   string         `gorm:"type:text;not null" json:"message"`
	IsEdited  bool           `json:"is_edited"`
	EditedAt  *time.Time     `json:"edited_at,omitempty"`
}

func (TaskChat) TableName() string {
	return "task_chat"
}

type TaskAttachment struct {
	Base
	TaskID       uuid.UUID   `gorm:"type:uuid;not null;index" json:"task_id"`
	FileUploadID uuid.UUID   `gorm:"type:uuid;not null" json:"file_upload_id"`
	FileUpload   *FileUpload `gorm:"foreignKey:FileUploadID" json:"file,omitempty"`
	UploadedBy   *uuid.UUID  `gorm:"type:uuid" json:"uploaded_by,omitempty"`
}
