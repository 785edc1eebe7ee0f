package scheduler

import (
	"context"
	"testing"
	"time"

	"taskflow/config"
	"taskflow/logger"
	"taskflow/models"
	"taskflow/notifier"
	"taskflow/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	requests []notifier.Request
}

func (f *fakeNotifier) Notify(_ context.Context, req notifier.Request) (*models.Notification, error) {
	f.requests = append(f.requests, req)
	return &models.Notification{ID: uuid.New(), UserID: req.UserID}, nil
}

var now = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*Scheduler, *fakeNotifier) {
	t.Helper()
	fake := &fakeNotifier{}
	s, err := New(&config.Config{ReminderSchedule: "@every 1m", OverdueSchedule: "@hourly"}, fake, logger.Nop())
	require.NoError(t, err)
	s.now = func() time.Time { return now }
	return s, fake
}

func TestNewRegistersJobs(t *testing.T) {
	s, _ := newTestScheduler(t)
	assert.Len(t, s.cron.Entries(), 2)

	_, err := New(&config.Config{ReminderSchedule: "whenever", OverdueSchedule: "@hourly"}, &fakeNotifier{}, logger.Nop())
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestSendEventReminders(t *testing.T) {
	_, mock := testutil.UseMockDB(t)
	s, fake := newTestScheduler(t)

	eventID, claimedID := uuid.New(), uuid.New()
	creator, assignee, taskID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "calendar_events" WHERE \(reminder_minutes IS NOT NULL AND reminder_sent = \$1 AND start_time > \$2\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "start_time", "end_time", "reminder_minutes", "reminder_sent", "created_by", "task_id"}).
			AddRow(eventID.String(), "Sprint review", now.Add(10*time.Minute), now.Add(time.Hour), 15, false, creator.String(), taskID.String()).
			AddRow(claimedID.String(), "Retro", now.Add(5*time.Minute), now.Add(time.Hour), 15, false, creator.String(), nil))

	mock.ExpectExec(`UPDATE "calendar_events" SET "reminder_sent"=\$1`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT "id","assignee_id" FROM "tasks"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "assignee_id"}).AddRow(taskID.String(), assignee.String()))
	// another instance already claimed the second event
	mock.ExpectExec(`UPDATE "calendar_events" SET "reminder_sent"=\$1`).WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := s.SendEventReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, fake.requests, 2)
	assert.Equal(t, creator, fake.requests[0].UserID)
	assert.Equal(t, assignee, fake.requests[1].UserID)
	assert.Equal(t, models.NotificationEventReminder, fake.requests[0].Type)
	assert.Equal(t, "Upcoming: Sprint review", fake.requests[0].Title)
	require.NotNil(t, fake.requests[0].Email)
	assert.Equal(t, "event_reminder.html", fake.requests[0].Email.Template)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifyOverdueTasks(t *testing.T) {
	_, mock := testutil.UseMockDB(t)
	s, fake := newTestScheduler(t)

	taskID, assignee := uuid.New(), uuid.New()
	due := now.Add(-2 * time.Hour)

	mock.ExpectQuery(`SELECT \* FROM "tasks" WHERE \(due_date < \$1 AND overdue_notified_at IS NULL AND assignee_id IS NOT NULL\) AND status NOT IN \(\$2,\$3\)`).
		WithArgs(now, "done", "cancelled", batchSize).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "status", "due_date", "assignee_id"}).
			AddRow(taskID.String(), "Ship release", "in_progress", due, assignee.String()))
	mock.ExpectExec(`UPDATE "tasks" SET "overdue_notified_at"=\$1`).WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.NotifyOverdueTasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, assignee, req.UserID)
	assert.Equal(t, models.NotificationTaskOverdue, req.Type)
	assert.Equal(t, "Ship release was due 2026-05-10", req.Message)
	require.NotNil(t, req.EntityID)
	assert.Equal(t, taskID, *req.EntityID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnique(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	assert.Equal(t, []uuid.UUID{a, b}, unique([]uuid.UUID{a, b, a, b}))
}
