package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"taskflow/mailer"
	"taskflow/middleware"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestRegisterCreatesUserAndSendsWelcome(t *testing.T) {
	env := newTestEnv(t)
	h := NewAuthHandler(env.deps)

	env.mock.ExpectQuery(`SELECT \* FROM "system_settings" WHERE key = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}))
	env.mock.ExpectQuery(`SELECT count\(\*\) FROM "users" WHERE \(email = \$1 OR username = \$2\)`).
		WithArgs("grace@example.com", "grace").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	env.mock.ExpectExec(`INSERT INTO "users"`).WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"email":"Grace@Example.com","username":"grace","full_name":"Grace Hopper","password":"correct horse"}`
	rec := serve(nil, http.MethodPost, "/api/auth/register", "/api/auth/register", body, h.Register)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := readEnvelope(t, rec)
	assert.True(t, res.Success)

	var payload struct {
		Token string `json:"token"`
		User  struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &payload))
	assert.Equal(t, "grace@example.com", payload.User.Email)
	assert.Equal(t, "member", payload.User.Role)

	claims, err := middleware.ValidateToken(payload.Token)
	require.NoError(t, err)
	assert.Equal(t, "grace", claims.Username)

	require.Len(t, env.mail.sent, 1)
	assert.Equal(t, mailer.TemplateWelcome, env.mail.sent[0].template)
	assert.Equal(t, "grace@example.com", env.mail.sent[0].to)

	cookie := rec.Result().Cookies()
	require.NotEmpty(t, cookie)
	assert.Equal(t, "token", cookie[0].Name)
	assert.True(t, cookie[0].HttpOnly)
}

func TestRegisterRejectsTakenEmail(t *testing.T) {
	env := newTestEnv(t)
	h := NewAuthHandler(env.deps)

	env.mock.ExpectQuery(`SELECT \* FROM "system_settings"`).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}))
	env.mock.ExpectQuery(`SELECT count\(\*\) FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	body := `{"email":"ada@example.com","username":"ada","password":"long enough"}`
	rec := serve(nil, http.MethodPost, "/register", "/register", body, h.Register)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Email or username already in use", readEnvelope(t, rec).Message)
	assert.Empty(t, env.mail.sent)
}

func TestRegisterClosed(t *testing.T) {
	env := newTestEnv(t)
	h := NewAuthHandler(env.deps)

	env.mock.ExpectQuery(`SELECT \* FROM "system_settings"`).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).AddRow("allow_registration", "false"))

	body := `{"email":"new@example.com","username":"newbie","password":"long enough"}`
	rec := serve(nil, http.MethodPost, "/register", "/register", body, h.Register)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Registration is disabled", readEnvelope(t, rec).Message)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	h := NewAuthHandler(env.deps)

	rec := serve(nil, http.MethodPost, "/register", "/register", `{"email":"not-an-email","username":"x","password":"short"}`, h.Register)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	res := readEnvelope(t, rec)
	assert.Equal(t, "Validation failed", res.Message)
	assert.NotEmpty(t, res.Errors)
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	user := member()

	userRows := func(active bool) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "email", "username", "password_hash", "role", "is_active"}).
			AddRow(user.ID.String(), user.Email, user.Username, string(hash), string(user.Role), active)
	}

	t.Run("success", func(t *testing.T) {
		env := newTestEnv(t)
		h := NewAuthHandler(env.deps)

		env.mock.ExpectQuery(`SELECT \* FROM "users" WHERE \(username = \$1 OR email = \$2\)`).
			WillReturnRows(userRows(true))
		env.mock.ExpectExec(`UPDATE "users" SET "last_login_at"=\$1`).WillReturnResult(sqlmock.NewResult(0, 1))

		rec := serve(nil, http.MethodPost, "/login", "/login", `{"login":"Ada","password":"s3cret-pass"}`, h.Login)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var payload authPayload
		require.NoError(t, json.Unmarshal(readEnvelope(t, rec).Data, &payload))
		assert.NotEmpty(t, payload.Token)
		require.NotNil(t, payload.User.LastLoginAt)
		assert.True(t, payload.User.LastLoginAt.Equal(fixedNow))
	})

	t.Run("wrong password", func(t *testing.T) {
		env := newTestEnv(t)
		h := NewAuthHandler(env.deps)

		env.mock.ExpectQuery(`SELECT \* FROM "users"`).WillReturnRows(userRows(true))

		rec := serve(nil, http.MethodPost, "/login", "/login", `{"login":"ada","password":"guess"}`, h.Login)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid credentials", readEnvelope(t, rec).Message)
	})

	t.Run("unknown user", func(t *testing.T) {
		env := newTestEnv(t)
		h := NewAuthHandler(env.deps)

		env.mock.ExpectQuery(`SELECT \* FROM "users"`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

		rec := serve(nil, http.MethodPost, "/login", "/login", `{"login":"nobody","password":"whatever"}`, h.Login)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("disabled account", func(t *testing.T) {
		env := newTestEnv(t)
		h := NewAuthHandler(env.deps)

		env.mock.ExpectQuery(`SELECT \* FROM "users"`).WillReturnRows(userRows(false))

		rec := serve(nil, http.MethodPost, "/login", "/login", `{"login":"ada","password":"s3cret-pass"}`, h.Login)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "Account is disabled", readEnvelope(t, rec).Message)
	})
}

func TestChangePasswordRejectsWrongCurrent(t *testing.T) {
	env := newTestEnv(t)
	h := NewAuthHandler(env.deps)

	hash, err := bcrypt.GenerateFromPassword([]byte("old-password"), bcrypt.MinCost)
	require.NoError(t, err)
	user := member()
	user.PasswordHash = string(hash)

	body := `{"current_password":"not-it","new_password":"brand-new-pass","confirm_password":"brand-new-pass"}`
	rec := serve(user, http.MethodPost, "/pw", "/pw", body, h.ChangePassword)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Current password is incorrect", readEnvelope(t, rec).Message)
}

func TestLogoutClearsCookie(t *testing.T) {
	env := newTestEnv(t)
	h := NewAuthHandler(env.deps)

	rec := serve(member(), http.MethodPost, "/logout", "/logout", "", h.Logout)

	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.TokenCookieName, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookies[0].SameSite)
}

func TestLogoutCookieIsSecureInProduction(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Config.Environment = "production"
	h := NewAuthHandler(env.deps)

	rec := serve(member(), http.MethodPost, "/logout", "/logout", "", h.Logout)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookies[0].SameSite)
}
