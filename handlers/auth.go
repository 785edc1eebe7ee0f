package handlers

import (
	"errors"
	"net/http"
	"strings"

	"taskflow/mailer"
	"taskflow/middleware"
	"taskflow/models"
	"taskflow/response"
	"taskflow/validation"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type AuthHandler struct {
	Deps
}

func NewAuthHandler(d Deps) *AuthHandler {
	return &AuthHandler{Deps: d}
}

type authPayload struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, middleware.TokenCookie(token, int(h.Config.JWTExpiration.Seconds()), h.Config.IsProduction()))
}

func (h *AuthHandler) issue(w http.ResponseWriter, r *http.Request, user *models.User) (string, bool) {
	token, err := middleware.GenerateToken(user, h.Config.JWTExpiration)
	if err != nil {
		h.fail(w, r, err, "")
		return "", false
	}
	h.setTokenCookie(w, token)
	return token, true
}

func (h *AuthHandler) registrationOpen(r *http.Request) (bool, error) {
	var setting models.SystemSetting
	err := db(r).Where("key = ?", "allow_registration").First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return setting.Value != "false", nil
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req validation.RegisterRequest
	if !decode(w, r, &req) {
		return
	}

	open, err := h.registrationOpen(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	if !open {
		response.Forbidden(w, "Registration is disabled")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	var count int64
	if err := db(r).Model(&models.User{}).Where("email = ? OR username = ?", email, req.Username).Count(&count).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}
	if count > 0 {
		response.Conflict(w, "Email or username already in use")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	user := models.User{
		Email:        email,
		Username:     req.Username,
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: string(hashedPassword),
		Role:         models.RoleMember,
		IsActive:     true,
	}
	if err := db(r).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			response.Conflict(w, "Email or username already in use")
			return
		}
		h.fail(w, r, err, "")
		return
	}

	token, ok := h.issue(w, r, &user)
	if !ok {
		return
	}

	if h.Mailer != nil {
		data := mailer.WelcomeData{Name: user.DisplayName(), Username: user.Username}
		if err := h.Mailer.SendTemplate(r.Context(), user.Email, "Welcome to Taskflow", mailer.TemplateWelcome, data); err != nil {
			h.Log.WithContext(r.Context()).Warn("Welcome email not delivered", "user_id", user.ID, "error", err)
		}
	}

	response.Created(w, "Registration successful", authPayload{Token: token, User: &user})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req validation.LoginRequest
	if !decode(w, r, &req) {
		return
	}

	login := strings.TrimSpace(req.Login)

	var user models.User
	err := db(r).Where("username = ? OR email = ?", login, strings.ToLower(login)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		response.Unauthorized(w, "Invalid credentials")
		return
	}
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		response.Unauthorized(w, "Invalid credentials")
		return
	}
	if !user.IsActive {
		response.Forbidden(w, "Account is disabled")
		return
	}

	now := h.now()
	if err := db(r).Model(&user).Update("last_login_at", now).Error; err != nil {
		h.Log.WithContext(r.Context()).Warn("Failed to record login time", "user_id", user.ID, "error", err)
	}
	user.LastLoginAt = &now

	token, ok := h.issue(w, r, &user)
	if !ok {
		return
	}
	response.Success(w, "Login successful", authPayload{Token: token, User: &user})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, middleware.TokenCookie("", -1, h.Config.IsProduction()))
	response.Success(w, "Logged out", nil)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	response.Success(w, "Current user", currentUser(r))
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req validation.ChangePasswordRequest
	if !decode(w, r, &req) {
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		response.BadRequest(w, "Current password is incorrect")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	if err := db(r).Model(user).Update("password_hash", string(hashedPassword)).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}
	user.PasswordHash = string(hashedPassword)

	// a fresh token so the cookie outlives the old one
	token, ok := h.issue(w, r, user)
	if !ok {
		return
	}
	response.Success(w, "Password changed", authPayload{Token: token, User: user})
}
