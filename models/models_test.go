package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeforeCreateAssignsID(t *testing.T) {
	task := &Task{Title: "write docs"}
	require.NoError(t, task.BeforeCreate(nil))
	assert.NotEqual(t, uuid.Nil, task.ID)

	fixed := uuid.New()
	task = &Task{Base: Base{ID: fixed}}
	require.NoError(t, task.BeforeCreate(nil))
	assert.Equal(t, fixed, task.ID)
}

func TestTaskSetStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task := &Task{Status: TaskStatusTodo}

	task.SetStatus(TaskStatusDone, now)
	require.NotNil(t, task.CompletedAt)
	assert.Equal(t, now, *task.CompletedAt)

	// completing twice keeps the first completion time
	task.SetStatus(TaskStatusDone, now.Add(time.Hour))
	assert.Equal(t, now, *task.CompletedAt)

	task.SetStatus(TaskStatusInProgress, now)
	assert.Nil(t, task.CompletedAt)
}

func TestTaskIsOverdue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.True(t, (&Task{Status: TaskStatusTodo, DueDate: &past}).IsOverdue(now))
	assert.False(t, (&Task{Status: TaskStatusDone, DueDate: &past}).IsOverdue(now))
	assert.False(t, (&Task{Status: TaskStatusTodo, DueDate: &future}).IsOverdue(now))
	assert.False(t, (&Task{Status: TaskStatusTodo}).IsOverdue(now))
}

func TestCalendarEventReminderDue(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	fifteen := 15

	tests := []struct {
		name  string
		event CalendarEvent
		want  bool
	}{
		{"no reminder", CalendarEvent{StartTime: now.Add(10 * time.Minute)}, false},
		{"inside window", CalendarEvent{StartTime: now.Add(10 * time.Minute), ReminderMinutes: &fifteen}, true},
		{"exactly at reminder time", CalendarEvent{StartTime: now.Add(15 * time.Minute), ReminderMinutes: &fifteen}, true},
		{"too early", CalendarEvent{StartTime: now.Add(time.Hour), ReminderMinutes: &fifteen}, false},
		{"already started", CalendarEvent{StartTime: now.Add(-time.Minute), ReminderMinutes: &fifteen}, false},
		{"already sent", CalendarEvent{StartTime: now.Add(5 * time.Minute), ReminderMinutes: &fifteen, ReminderSent: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.ReminderDue(now))
		})
	}
}

func TestTeamMemberPermissions(t *testing.T) {
	owner := &TeamMember{Role: TeamRoleOwner}
	admin := &TeamMember{Role: TeamRoleAdmin}
	member := &TeamMember{Role: TeamRoleMember}
	viewer := &TeamMember{Role: TeamRoleViewer}

	assert.True(t, owner.CanManage())
	assert.True(t, owner.IsOwner())
	assert.True(t, admin.CanManage())
	assert.False(t, admin.IsOwner())
	assert.False(t, member.CanManage())
	assert.True(t, member.CanWrite())
	assert.False(t, viewer.CanWrite())
}

func TestInvitationValidity(t *testing.T) {
	code, err := GenerateInviteCode()
	require.NoError(t, err)
	assert.Len(t, code, 64)

	inv := &TeamInvitation{Code: code, ExpiresAt: time.Now().Add(time.Hour)}
	assert.True(t, inv.IsValid())

	accepted := time.Now()
	inv.AcceptedAt = &accepted
	assert.False(t, inv.IsValid())

	expired := &TeamInvitation{ExpiresAt: time.Now().Add(-time.Minute)}
	assert.False(t, expired.IsValid())
}

func TestUserDisplayName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", (&User{Username: "ada", FullName: "Ada Lovelace"}).DisplayName())
	assert.Equal(t, "ada", (&User{Username: "ada"}).DisplayName())
}
