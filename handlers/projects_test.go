package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"taskflow/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectCreateAddsManager(t *testing.T) {
	env := newTestEnv(t)
	h := NewProjectHandler(env.deps)
	teamID := uuid.New()
	me := member()

	env.expectMembership(teamID, me.ID, models.TeamRoleMember)
	env.mock.ExpectBegin()
	env.mock.ExpectExec(`INSERT INTO "projects"`).WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec(`INSERT INTO "project_members"`).WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()
	env.expectActivity()

	rec := serve(me, http.MethodPost, "/teams/{teamID}/projects", "/teams/"+teamID.String()+"/projects",
		`{"name":"  Apollo  "}`, h.Create)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var project models.Project
	require.NoError(t, json.Unmarshal(readEnvelope(t, rec).Data, &project))
	assert.Equal(t, "Apollo", project.Name)
	assert.Equal(t, models.ProjectStatusPlanning, project.Status)
	assert.Equal(t, models.PriorityMedium, project.Priority)
	assert.Equal(t, teamID, project.TeamID)
}

func TestProjectCreateRejectsInvertedDates(t *testing.T) {
	env := newTestEnv(t)
	h := NewProjectHandler(env.deps)
	teamID := uuid.New()

	env.expectMembership(teamID, member().ID, models.TeamRoleAdmin)

	body := `{"name":"Apollo","start_date":"2026-07-01T00:00:00Z","end_date":"2026-06-01T00:00:00Z"}`
	rec := serve(member(), http.MethodPost, "/teams/{teamID}/projects", "/teams/"+teamID.String()+"/projects", body, h.Create)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, readEnvelope(t, rec).Errors, "end_date must not be before start_date")
}

func TestProjectCreateByViewerForbidden(t *testing.T) {
	env := newTestEnv(t)
	h := NewProjectHandler(env.deps)
	teamID := uuid.New()

	env.expectMembership(teamID, member().ID, models.TeamRoleViewer)

	rec := serve(member(), http.MethodPost, "/teams/{teamID}/projects", "/teams/"+teamID.String()+"/projects",
		`{"name":"Apollo"}`, h.Create)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, msgCannotWrite, readEnvelope(t, rec).Message)
}

func TestCalendarCreateRejectsForeignProject(t *testing.T) {
	env := newTestEnv(t)
	h := NewCalendarHandler(env.deps)
	teamID := uuid.New()

	env.expectMembership(teamID, member().ID, models.TeamRoleMember)
	env.mock.ExpectQuery(`SELECT count\(\*\) FROM "projects" WHERE \(id = \$1 AND team_id = \$2\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	body := `{"title":"Kickoff","start_time":"2026-06-02T09:00:00Z","end_time":"2026-06-02T10:00:00Z","project_id":"` + uuid.NewString() + `"}`
	rec := serve(member(), http.MethodPost, "/teams/{teamID}/events", "/teams/"+teamID.String()+"/events", body, h.Create)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Project does not belong to this team", readEnvelope(t, rec).Message)
}

func TestCalendarCreateDefaultsToMeeting(t *testing.T) {
	env := newTestEnv(t)
	h := NewCalendarHandler(env.deps)
	teamID := uuid.New()

	env.expectMembership(teamID, member().ID, models.TeamRoleMember)
	env.mock.ExpectExec(`INSERT INTO "calendar_events"`).WillReturnResult(sqlmock.NewResult(0, 1))
	env.expectActivity()

	body := `{"title":"Kickoff","start_time":"2026-06-02T09:00:00Z","end_time":"2026-06-02T10:00:00Z"}`
	rec := serve(member(), http.MethodPost, "/teams/{teamID}/events", "/teams/"+teamID.String()+"/events", body, h.Create)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var event models.CalendarEvent
	require.NoError(t, json.Unmarshal(readEnvelope(t, rec).Data, &event))
	assert.Equal(t, models.EventMeeting, event.EventType)
}

func TestCommentCreateNotifiesAssignee(t *testing.T) {
	env := newTestEnv(t)
	h := NewCommentHandler(env.deps)
	f := newTaskFixture()

	env.expectTaskAccess(f, member().ID, models.TeamRoleMember)
	env.mock.ExpectExec(`INSERT INTO "comments"`).WillReturnResult(sqlmock.NewResult(0, 1))
	env.expectActivity()

	target := "/tasks/" + f.task.ID.String() + "/comments"
	rec := serve(member(), http.MethodPost, "/tasks/{taskID}/comments", target, `{"content":" Looks good "}`, h.Create)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var comment models.Comment
	require.NoError(t, json.Unmarshal(readEnvelope(t, rec).Data, &comment))
	assert.Equal(t, "Looks good", comment.Content)

	require.Len(t, env.notes.requests, 1)
	assert.Equal(t, *f.task.AssigneeID, env.notes.requests[0].UserID)
	assert.Equal(t, models.NotificationTaskComment, env.notes.requests[0].Type)
}

func TestCommentReplyNeedsParentInTask(t *testing.T) {
	env := newTestEnv(t)
	h := NewCommentHandler(env.deps)
	f := newTaskFixture()

	env.expectTaskAccess(f, member().ID, models.TeamRoleMember)
	env.mock.ExpectQuery(`SELECT count\(\*\) FROM "comments" WHERE \(id = \$1 AND task_id = \$2\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	target := "/tasks/" + f.task.ID.String() + "/comments"
	body := `{"content":"reply","parent_id":"` + uuid.NewString() + `"}`
	rec := serve(member(), http.MethodPost, "/tasks/{taskID}/comments", target, body, h.Create)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Parent comment not found in this task", readEnvelope(t, rec).Message)
}

func TestCommentUpdateByOtherUserForbidden(t *testing.T) {
	env := newTestEnv(t)
	h := NewCommentHandler(env.deps)
	f := newTaskFixture()
	commentID := uuid.New()

	env.mock.ExpectQuery(`SELECT \* FROM "comments" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "task_id", "user_id", "content"}).
			AddRow(commentID.String(), f.task.ID.String(), uuid.NewString(), "first draft"))
	env.expectTaskAccess(f, member().ID, models.TeamRoleAdmin)

	target := "/comments/" + commentID.String()
	rec := serve(member(), http.MethodPut, "/comments/{commentID}", target, `{"content":"edited"}`, h.Update)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "You can only edit your own comments", readEnvelope(t, rec).Message)
}
