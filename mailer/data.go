package mailer

import "time"

type WelcomeData struct {
	Name     string
	Username string
}

type TeamInvitationData struct {
	TeamName    string
	InviterName string
	Role        string
	Code        string
	ExpiresAt   time.Time
}

type TaskAssignedData struct {
	TaskTitle    string
	ProjectName  string
	AssignerName string
	Priority     string
	DueDate      *time.Time
}

type EventReminderData struct {
	Title       string
	Description string
	Location    string
	StartTime   time.Time
}

type TaskOverdueData struct {
	TaskTitle string
	Status    string
	DueDate   time.Time
}
