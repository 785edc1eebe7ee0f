package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"taskflow/models"
	"taskflow/upload"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnreadCount(t *testing.T) {
	env := newTestEnv(t)
	h := NewNotificationHandler(env.deps)

	env.mock.ExpectQuery(`SELECT count\(\*\) FROM "notifications" WHERE user_id = \$1 AND is_read = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	rec := serve(member(), http.MethodGet, "/notifications/unread-count", "/notifications/unread-count", "", h.UnreadCount)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":3}`, string(readEnvelope(t, rec).Data))
}

func TestMarkRead(t *testing.T) {
	id := uuid.New()

	t.Run("own notification", func(t *testing.T) {
		env := newTestEnv(t)
		h := NewNotificationHandler(env.deps)

		env.mock.ExpectExec(`UPDATE "notifications" SET "is_read"=\$1,"read_at"=\$2 WHERE id = \$3 AND user_id = \$4`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		rec := serve(member(), http.MethodPatch, "/notifications/{notificationID}/read", "/notifications/"+id.String()+"/read", "", h.MarkRead)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("someone else's", func(t *testing.T) {
		env := newTestEnv(t)
		h := NewNotificationHandler(env.deps)

		env.mock.ExpectExec(`UPDATE "notifications"`).WillReturnResult(sqlmock.NewResult(0, 0))

		rec := serve(member(), http.MethodPatch, "/notifications/{notificationID}/read", "/notifications/"+id.String()+"/read", "", h.MarkRead)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Notification not found", readEnvelope(t, rec).Message)
	})
}

func TestMarkAllRead(t *testing.T) {
	env := newTestEnv(t)
	h := NewNotificationHandler(env.deps)

	env.mock.ExpectExec(`UPDATE "notifications" SET "is_read"=\$1,"read_at"=\$2 WHERE user_id = \$3 AND is_read = \$4`).
		WillReturnResult(sqlmock.NewResult(0, 7))

	rec := serve(member(), http.MethodPatch, "/notifications/read-all", "/notifications/read-all", "", h.MarkAllRead)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":7}`, string(readEnvelope(t, rec).Data))
}

func TestSettingsCreatedOnFirstRead(t *testing.T) {
	env := newTestEnv(t)
	h := NewSettingsHandler(env.deps)

	env.mock.ExpectQuery(`SELECT \* FROM "user_settings" WHERE user_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	env.mock.ExpectExec(`INSERT INTO "user_settings"`).WillReturnResult(sqlmock.NewResult(0, 1))

	rec := serve(member(), http.MethodGet, "/settings", "/settings", "", h.Get)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var settings models.UserSetting
	require.NoError(t, json.Unmarshal(readEnvelope(t, rec).Data, &settings))
	assert.Equal(t, member().ID, settings.UserID)
	assert.Equal(t, "system", settings.Theme)
	assert.Equal(t, "UTC", settings.Timezone)
	assert.True(t, settings.EmailNotifications)
}

func TestSettingsUpdateRejectsUnknownTheme(t *testing.T) {
	env := newTestEnv(t)
	h := NewSettingsHandler(env.deps)

	rec := serve(member(), http.MethodPut, "/settings", "/settings", `{"theme":"neon"}`, h.Update)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutSystemInsertsNewKey(t *testing.T) {
	env := newTestEnv(t)
	h := NewSettingsHandler(env.deps)

	env.mock.ExpectQuery(`SELECT \* FROM "system_settings" WHERE key = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	env.mock.ExpectExec(`INSERT INTO "system_settings"`).WillReturnResult(sqlmock.NewResult(0, 1))

	rec := serve(admin(), http.MethodPut, "/settings/system/{key}", "/settings/system/allow_registration",
		`{"value":"false","is_public":true}`, h.PutSystem)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var setting models.SystemSetting
	require.NoError(t, json.Unmarshal(readEnvelope(t, rec).Data, &setting))
	assert.Equal(t, "allow_registration", setting.Key)
	assert.Equal(t, "false", setting.Value)
	assert.True(t, setting.IsPublic)
	require.NotNil(t, setting.UpdatedBy)
	assert.Equal(t, admin().ID, *setting.UpdatedBy)
}

func TestListSystemHidesPrivateFromMembers(t *testing.T) {
	env := newTestEnv(t)
	h := NewSettingsHandler(env.deps)

	env.mock.ExpectQuery(`SELECT \* FROM "system_settings" WHERE is_public = \$1 ORDER BY key`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "key", "value", "is_public"}).
			AddRow(uuid.NewString(), "site_name", "Taskflow", true))

	rec := serve(member(), http.MethodGet, "/settings/system", "/settings/system", "", h.ListSystem)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// withFile stands in for upload.Middleware.
func withFile(file *upload.File, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h(w, r.WithContext(upload.WithFile(r.Context(), file)))
	}
}

func storedFile(t *testing.T, store *upload.DiskStore, key, content string) *upload.File {
	t.Helper()
	n, err := store.Put(context.Background(), key, strings.NewReader(content))
	require.NoError(t, err)
	return &upload.File{Key: key, OriginalName: "notes.txt", MimeType: "text/plain", Size: n}
}

func TestUploadCreate(t *testing.T) {
	t.Run("records the file", func(t *testing.T) {
		env := newTestEnv(t)
		store, err := upload.NewDiskStore(t.TempDir())
		require.NoError(t, err)
		env.deps.Store = store
		h := NewUploadHandler(env.deps)
		file := storedFile(t, store, "uploads/2026/06/notes.txt", "hello")

		env.mock.ExpectExec(`INSERT INTO "file_uploads"`).WillReturnResult(sqlmock.NewResult(0, 1))

		rec := serve(member(), http.MethodPost, "/uploads", "/uploads", "", withFile(file, h.Create))

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var record models.FileUpload
		require.NoError(t, json.Unmarshal(readEnvelope(t, rec).Data, &record))
		assert.Equal(t, "notes.txt", record.OriginalName)
		assert.EqualValues(t, 5, record.SizeBytes)
		assert.FileExists(t, filepath.Join(store.Root, "uploads", "2026", "06", "notes.txt"))
	})

	t.Run("removes the blob when the row fails", func(t *testing.T) {
		env := newTestEnv(t)
		store, err := upload.NewDiskStore(t.TempDir())
		require.NoError(t, err)
		env.deps.Store = store
		h := NewUploadHandler(env.deps)
		file := storedFile(t, store, "uploads/orphan.txt", "bytes")

		env.mock.ExpectExec(`INSERT INTO "file_uploads"`).WillReturnError(errors.New("disk full"))

		rec := serve(member(), http.MethodPost, "/uploads", "/uploads", "", withFile(file, h.Create))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		_, err = os.Stat(filepath.Join(store.Root, "uploads", "orphan.txt"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("no file", func(t *testing.T) {
		env := newTestEnv(t)
		h := NewUploadHandler(env.deps)

		rec := serve(member(), http.MethodPost, "/uploads", "/uploads", "", h.Create)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUploadDownloadByUploader(t *testing.T) {
	env := newTestEnv(t)
	store, err := upload.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	env.deps.Store = store
	h := NewUploadHandler(env.deps)
	file := storedFile(t, store, "uploads/report.txt", "quarterly numbers")
	id := uuid.New()

	env.mock.ExpectQuery(`SELECT \* FROM "file_uploads" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "uploaded_by", "original_name", "storage_key", "mime_type", "size_bytes"}).
			AddRow(id.String(), member().ID.String(), "Q2 report.txt", file.Key, "text/plain", file.Size))

	rec := serve(member(), http.MethodGet, "/uploads/{uploadID}/download", "/uploads/"+id.String()+"/download", "", h.Download)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Q2 report.txt"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "quarterly numbers", string(body))
}

func TestUploadHiddenFromStrangers(t *testing.T) {
	env := newTestEnv(t)
	h := NewUploadHandler(env.deps)
	id := uuid.New()

	env.mock.ExpectQuery(`SELECT \* FROM "file_uploads" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "uploaded_by", "original_name", "storage_key"}).
			AddRow(id.String(), uuid.NewString(), "secret.pdf", "uploads/secret.pdf"))
	env.mock.ExpectQuery(`SELECT \* FROM "task_attachments" WHERE file_upload_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := serve(member(), http.MethodGet, "/uploads/{uploadID}", "/uploads/"+id.String(), "", h.Get)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	newTestEnv(t)

	rec := httptest.NewRecorder()
	Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","database":"up"}`, string(readEnvelope(t, rec).Data))
}

type fakeWS struct {
	userID   uuid.UUID
	userName string
}

func (f *fakeWS) ServeWS(w http.ResponseWriter, _ *http.Request, userID uuid.UUID, userName string) {
	f.userID, f.userName = userID, userName
	w.WriteHeader(http.StatusNoContent)
}

func TestWebSocketNeedsUser(t *testing.T) {
	ws := &fakeWS{}

	rec := serve(nil, http.MethodGet, "/ws", "/ws", "", WebSocket(ws))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, uuid.Nil, ws.userID)

	rec = serve(member(), http.MethodGet, "/ws", "/ws", "", WebSocket(ws))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, member().ID, ws.userID)
	assert.Equal(t, "Ada Lovelace", ws.userName)
}

func TestTaskAccessForHub(t *testing.T) {
	f := newTaskFixture()

	t.Run("unknown user", func(t *testing.T) {
		env := newTestEnv(t)
		env.mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

		ok, err := TaskAccess{}.CanAccessTask(context.Background(), uuid.New(), f.task.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("team member", func(t *testing.T) {
		env := newTestEnv(t)
		me := member()
		env.mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "username", "role"}).AddRow(me.ID.String(), me.Username, string(me.Role)))
		env.expectTaskAccess(f, me.ID, models.TeamRoleViewer)

		ok, err := TaskAccess{}.CanAccessTask(context.Background(), me.ID, f.task.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("outsider", func(t *testing.T) {
		env := newTestEnv(t)
		me := member()
		env.mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "username", "role"}).AddRow(me.ID.String(), me.Username, string(me.Role)))
		env.mock.ExpectQuery(`SELECT \* FROM "tasks" WHERE id = \$1`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "project_id"}).AddRow(f.task.ID.String(), f.task.ProjectID.String()))
		env.mock.ExpectQuery(`SELECT "id","team_id","name" FROM "projects"`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "team_id", "name"}).AddRow(f.task.ProjectID.String(), f.teamID.String(), "Apollo"))
		env.expectNoMembership()

		ok, err := TaskAccess{}.CanAccessTask(context.Background(), me.ID, f.task.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
