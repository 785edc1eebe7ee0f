package notifier

import (
	"context"
	"errors"
	"testing"

	"taskflow/logger"
	"taskflow/models"
	"taskflow/realtime"
	"taskflow/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pushed struct {
	userID uuid.UUID
	event  string
	data   interface{}
}

type fakePusher struct{ pushed []pushed }

func (f *fakePusher) SendToUser(userID uuid.UUID, event string, data interface{}) bool {
	f.pushed = append(f.pushed, pushed{userID, event, data})
	return true
}

type fakeMailer struct {
	to  []string
	err error
}

func (f *fakeMailer) SendTemplate(_ context.Context, to, _, _ string, _ interface{}) error {
	f.to = append(f.to, to)
	return f.err
}

func TestNotifyStoresAndPushes(t *testing.T) {
	_, mock := testutil.UseMockDB(t)
	mock.ExpectExec(`INSERT INTO "notifications"`).WillReturnResult(sqlmock.NewResult(0, 1))

	pusher := &fakePusher{}
	n := New(pusher, nil, logger.Nop())
	userID := uuid.New()
	taskID := uuid.New()

	row, err := n.Notify(context.Background(), Request{
		UserID: userID, Type: models.NotificationTaskAssigned, Title: "Task assigned",
		EntityType: "task", EntityID: &taskID,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, row.ID)

	require.Len(t, pusher.pushed, 1)
	assert.Equal(t, userID, pusher.pushed[0].userID)
	assert.Equal(t, realtime.EventTaskNotification, pusher.pushed[0].event)
	assert.Equal(t, realtime.Notification{Notification: row}, pusher.pushed[0].data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifyInsertFailure(t *testing.T) {
	_, mock := testutil.UseMockDB(t)
	mock.ExpectExec(`INSERT INTO "notifications"`).WillReturnError(errors.New("db down"))

	pusher := &fakePusher{}
	_, err := New(pusher, nil, logger.Nop()).Notify(context.Background(), Request{UserID: uuid.New(), Type: "x", Title: "x"})
	assert.Error(t, err)
	assert.Empty(t, pusher.pushed)
}

func TestNotifyEmailsWhenEnabled(t *testing.T) {
	_, mock := testutil.UseMockDB(t)
	userID := uuid.New()

	mock.ExpectExec(`INSERT INTO "notifications"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "username", "is_active"}).AddRow(userID.String(), "ada@example.com", "ada", true))
	mock.ExpectQuery(`SELECT \* FROM "user_settings"`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	mail := &fakeMailer{err: errors.New("smtp down")}
	_, err := New(nil, mail, logger.Nop()).Notify(context.Background(), Request{
		UserID: userID, Type: models.NotificationTaskOverdue, Title: "Overdue",
		Email: &Email{Subject: "Task overdue", Template: "task_overdue.html"},
	})

	// mail failures are not propagated
	require.NoError(t, err)
	assert.Equal(t, []string{"ada@example.com"}, mail.to)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifySkipsEmailWhenDisabled(t *testing.T) {
	_, mock := testutil.UseMockDB(t)
	userID := uuid.New()

	mock.ExpectExec(`INSERT INTO "notifications"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "username", "is_active"}).AddRow(userID.String(), "ada@example.com", "ada", true))
	mock.ExpectQuery(`SELECT \* FROM "user_settings"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "email_notifications"}).AddRow(uuid.New().String(), userID.String(), false))

	mail := &fakeMailer{}
	_, err := New(nil, mail, logger.Nop()).Notify(context.Background(), Request{
		UserID: userID, Type: models.NotificationTaskOverdue, Title: "Overdue",
		Email: &Email{Subject: "Task overdue", Template: "task_overdue.html"},
	})
	require.NoError(t, err)
	assert.Empty(t, mail.to)
}

func TestNotifyUsersDeduplicatesAndSkipsActor(t *testing.T) {
	_, mock := testutil.UseMockDB(t)
	mock.ExpectExec(`INSERT INTO "notifications"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "notifications"`).WillReturnResult(sqlmock.NewResult(0, 1))

	actor, a, b := uuid.New(), uuid.New(), uuid.New()
	pusher := &fakePusher{}
	New(pusher, nil, logger.Nop()).NotifyUsers(context.Background(), []*uuid.UUID{&a, nil, &actor, &b, &a}, actor, Request{Type: "task_comment", Title: "New comment"})

	require.Len(t, pusher.pushed, 2)
	assert.Equal(t, a, pusher.pushed[0].userID)
	assert.Equal(t, b, pusher.pushed[1].userID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
