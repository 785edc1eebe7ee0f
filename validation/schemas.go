package validation

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Request schemas for every write endpoint. Pointer fields on update requests
// are optional; nil means "leave unchanged".

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Username string `json:"username" validate:"required,min=3,max=100,alphanum"`
	FullName string `json:"full_name" validate:"max=200"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type LoginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=128"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=NewPassword"`
}

type CreateTeamRequest struct {
	Name        string `json:"name" validate:"required,notblank,max=100"`
	Slug        string `json:"slug" validate:"omitempty,slug,max=120"`
	Description string `json:"description" validate:"max=2000"`
}

type UpdateTeamRequest struct {
	Name        *string `json:"name" validate:"omitempty,notblank,max=100"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Status      *string `json:"status" validate:"omitempty,oneof=active archived"`
}

type AddTeamMemberRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Role   string `json:"role" validate:"omitempty,oneof=admin member viewer"`
}

type UpdateTeamMemberRequest struct {
	Role string `json:"role" validate:"required,oneof=owner admin member viewer"`
}

type InvitationRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
	Role  string `json:"role" validate:"omitempty,oneof=admin member viewer"`
}

type CreateProjectRequest struct {
	Name        string     `json:"name" validate:"required,notblank,max=150"`
	Description string     `json:"description" validate:"max=5000"`
	Status      string     `json:"status" validate:"omitempty,oneof=planning active on_hold completed archived"`
	Priority    string     `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	Color       string     `json:"color" validate:"omitempty,hexcolor"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
}

type UpdateProjectRequest struct {
	Name        *string    `json:"name" validate:"omitempty,notblank,max=150"`
	Description *string    `json:"description" validate:"omitempty,max=5000"`
	Status      *string    `json:"status" validate:"omitempty,oneof=planning active on_hold completed archived"`
	Priority    *string    `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	Color       *string    `json:"color" validate:"omitempty,hexcolor"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
}

type ProjectMemberRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Role   string `json:"role" validate:"omitempty,oneof=manager contributor viewer"`
}

type CreateTaskRequest struct {
	Title              string     `json:"title" validate:"required,notblank,max=255"`
	Description        string     `json:"description" validate:"max=20000"`
	AcceptanceCriteria string     `json:"acceptance_criteria" validate:"max=20000"`
	Status             string     `json:"status" validate:"omitempty,oneof=todo in_progress review done cancelled"`
	Priority           string     `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	AssigneeID         *string    `json:"assignee_id" validate:"omitempty,uuid"`
	ParentTaskID       *string    `json:"parent_task_id" validate:"omitempty,uuid"`
	DueDate            *time.Time `json:"due_date"`
	EstimatedHours     *float64   `json:"estimated_hours" validate:"omitempty,gte=0,lte=10000"`
	Labels             []string   `json:"labels" validate:"omitempty,max=20,dive,notblank,max=50"`
}

type UpdateTaskRequest struct {
	Title          *string    `json:"title" validate:"omitempty,notblank,max=255"`
	Status         *string    `json:"status" validate:"omitempty,oneof=todo in_progress review done cancelled"`
	Priority       *string    `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	AssigneeID     *string    `json:"assignee_id" validate:"omitempty,uuid"`
	DueDate        *time.Time `json:"due_date"`
	Position       *int       `json:"position" validate:"omitempty,gte=0"`
	EstimatedHours *float64   `json:"estimated_hours" validate:"omitempty,gte=0,lte=10000"`
}

type TaskStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=todo in_progress review done cancelled"`
}

type TaskDetailsRequest struct {
	Description        *string                `json:"description" validate:"omitempty,max=20000"`
	AcceptanceCriteria *string                `json:"acceptance_criteria" validate:"omitempty,max=20000"`
	Labels             []string               `json:"labels" validate:"omitempty,max=20,dive,notblank,max=50"`
	Metadata           map[string]interface{} `json:"metadata"`
}

type TaskMemberRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Role   string `json:"role" validate:"omitempty,oneof=assignee reviewer watcher"`
}

// MaxChatMessageLength bounds a single chat message, over HTTP and WebSocket.
const MaxChatMessageLength = 4000

type ChatMessageRequest struct {
	Message   string  `json:"message" validate:"required,notblank,max=4000"`
	ReplyToID *string `json:"reply_to_id" validate:"omitempty,uuid"`
}

type CommentRequest struct {
	Content  string  `json:"content" validate:"required,notblank,max=10000"`
	ParentID *string `json:"parent_id" validate:"omitempty,uuid"`
}

type CalendarEventRequest struct {
	Title           string    `json:"title" validate:"required,notblank,max=255"`
	Description     string    `json:"description" validate:"max=5000"`
	Location        string    `json:"location" validate:"max=255"`
	EventType       string    `json:"event_type" validate:"omitempty,oneof=meeting deadline milestone reminder other"`
	StartTime       time.Time `json:"start_time" validate:"required"`
	EndTime         time.Time `json:"end_time" validate:"required,gtefield=StartTime"`
	AllDay          bool      `json:"all_day"`
	ReminderMinutes *int      `json:"reminder_minutes" validate:"omitempty,gte=0,lte=40320"`
	ProjectID       *string   `json:"project_id" validate:"omitempty,uuid"`
	TaskID          *string   `json:"task_id" validate:"omitempty,uuid"`
}

type UserSettingsRequest struct {
	Theme              *string                `json:"theme" validate:"omitempty,oneof=light dark system"`
	Language           *string                `json:"language" validate:"omitempty,min=2,max=10"`
	Timezone           *string                `json:"timezone" validate:"omitempty,timezone"`
	EmailNotifications *bool                  `json:"email_notifications"`
	PushNotifications  *bool                  `json:"push_notifications"`
	Preferences        map[string]interface{} `json:"preferences"`
}

type SystemSettingRequest struct {
	Value       string  `json:"value" validate:"max=10000"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
	IsPublic    *bool   `json:"is_public"`
}

func init() {
	RegisterStructRule(projectDates, CreateProjectRequest{}, UpdateProjectRequest{})
}

func projectDates(sl validator.StructLevel) {
	var start, end *time.Time
	switch req := sl.Current().Interface().(type) {
	case CreateProjectRequest:
		start, end = req.StartDate, req.EndDate
	case UpdateProjectRequest:
		start, end = req.StartDate, req.EndDate
	}
	if start != nil && end != nil && end.Before(*start) {
		sl.ReportError(end, "end_date", "EndDate", "gtefield", "start_date")
	}
}
