package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"taskflow/config"
	"taskflow/logger"
	"taskflow/middleware"
	"taskflow/models"
	"taskflow/notifier"
	"taskflow/realtime"
	"taskflow/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func init() {
	middleware.SetJWTSecret("handlers-test-secret")
}

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type hubEvent struct {
	taskID uuid.UUID
	event  string
	data   interface{}
}

type fakeHub struct {
	mu     sync.Mutex
	events []hubEvent
	online []realtime.OnlineUser
}

func (f *fakeHub) BroadcastToTask(taskID uuid.UUID, event string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, hubEvent{taskID: taskID, event: event, data: data})
}

func (f *fakeHub) Online(_ context.Context, _ uuid.UUID) ([]realtime.OnlineUser, error) {
	return f.online, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	requests []notifier.Request
}

func (f *fakeNotifier) Notify(_ context.Context, req notifier.Request) (*models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return &models.Notification{UserID: req.UserID, Type: req.Type, Title: req.Title}, nil
}

func (f *fakeNotifier) NotifyUsers(ctx context.Context, ids []*uuid.UUID, skip uuid.UUID, req notifier.Request) {
	for _, id := range ids {
		if id == nil || *id == skip {
			continue
		}
		r := req
		r.UserID = *id
		f.Notify(ctx, r)
	}
}

type sentMail struct {
	to, subject, template string
}

type fakeMailer struct {
	sent []sentMail
}

func (f *fakeMailer) SendTemplate(_ context.Context, to, subject, name string, _ interface{}) error {
	f.sent = append(f.sent, sentMail{to: to, subject: subject, template: name})
	return nil
}

type testEnv struct {
	deps  Deps
	mock  sqlmock.Sqlmock
	hub   *fakeHub
	notes *fakeNotifier
	mail  *fakeMailer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	_, mock := testutil.UseMockDB(t)
	env := &testEnv{
		mock:  mock,
		hub:   &fakeHub{},
		notes: &fakeNotifier{},
		mail:  &fakeMailer{},
	}
	env.deps = Deps{
		Config: &config.Config{
			JWTExpiration:    time.Hour,
			InviteExpiration: 24 * time.Hour,
			Environment:      "test",
		},
		Hub:      env.hub,
		Notifier: env.notes,
		Mailer:   env.mail,
		Log:      logger.Nop(),
		Now:      func() time.Time { return fixedNow },
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sql expectations: %v", err)
		}
	})
	return env
}

// serve routes a single request through chi so URL params resolve, with
// user placed on the context the way AuthMiddleware does.
func serve(user *models.User, method, pattern, target, body string, h http.HandlerFunc) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user != nil {
				r = r.WithContext(middleware.WithUser(r.Context(), user))
			}
			next.ServeHTTP(w, r)
		})
	})
	router.MethodFunc(method, pattern, h)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Errors     []string        `json:"errors"`
	Pagination json.RawMessage `json:"pagination"`
}

func readEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func member() *models.User {
	return &models.User{
		Base:     models.Base{ID: uuid.MustParse("11111111-1111-4111-8111-111111111111")},
		Email:    "ada@example.com",
		Username: "ada",
		FullName: "Ada Lovelace",
		Role:     models.RoleMember,
		IsActive: true,
	}
}

func admin() *models.User {
	return &models.User{
		Base:     models.Base{ID: uuid.MustParse("22222222-2222-4222-8222-222222222222")},
		Email:    "admin@example.com",
		Username: "admin",
		Role:     models.RoleAdmin,
		IsActive: true,
	}
}

func nullable(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}

func membershipRows(teamID, userID uuid.UUID, role models.TeamRole) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "team_id", "user_id", "role"}).
		AddRow(uuid.NewString(), teamID.String(), userID.String(), string(role))
}

// expectMembership queues the lookup teamAccess performs for a non-admin.
func (e *testEnv) expectMembership(teamID, userID uuid.UUID, role models.TeamRole) {
	e.mock.ExpectQuery(`SELECT \* FROM "team_members" WHERE team_id = \$1 AND user_id = \$2`).
		WillReturnRows(membershipRows(teamID, userID, role))
}

func (e *testEnv) expectNoMembership() {
	e.mock.ExpectQuery(`SELECT \* FROM "team_members" WHERE team_id = \$1 AND user_id = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
}

func (e *testEnv) expectActivity() {
	e.mock.ExpectExec(`INSERT INTO "activity_logs"`).WillReturnResult(sqlmock.NewResult(0, 1))
}

type taskFixture struct {
	task   models.Task
	teamID uuid.UUID
}

func newTaskFixture() taskFixture {
	reporter := member().ID
	assignee := uuid.MustParse("33333333-3333-4333-8333-333333333333")
	return taskFixture{
		teamID: uuid.MustParse("44444444-4444-4444-8444-444444444444"),
		task: models.Task{
			Base:       models.Base{ID: uuid.MustParse("55555555-5555-4555-8555-555555555555")},
			ProjectID:  uuid.MustParse("66666666-6666-4666-8666-666666666666"),
			Title:      "Write release notes",
			Status:     models.TaskStatusInProgress,
			Priority:   models.PriorityHigh,
			AssigneeID: &assignee,
			ReporterID: &reporter,
		},
	}
}

// expectTaskAccess queues the three lookups taskAccess performs.
func (e *testEnv) expectTaskAccess(f taskFixture, userID uuid.UUID, role models.TeamRole) {
	e.mock.ExpectQuery(`SELECT \* FROM "tasks" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "title", "status", "priority", "assignee_id", "reporter_id"}).
			AddRow(f.task.ID.String(), f.task.ProjectID.String(), f.task.Title, string(f.task.Status),
				string(f.task.Priority), nullable(f.task.AssigneeID), nullable(f.task.ReporterID)))
	e.mock.ExpectQuery(`SELECT "id","team_id","name" FROM "projects" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "team_id", "name"}).
			AddRow(f.task.ProjectID.String(), f.teamID.String(), "Apollo"))
	e.expectMembership(f.teamID, userID, role)
}
