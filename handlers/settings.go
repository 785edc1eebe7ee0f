package handlers

import (
	"errors"
	"net/http"

	"taskflow/models"
	"taskflow/response"
	"taskflow/validation"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type SettingsHandler struct {
	Deps
}

func NewSettingsHandler(d Deps) *SettingsHandler {
	return &SettingsHandler{Deps: d}
}

// userSettings returns the caller's settings, creating the default row on
// first use.
func (h *SettingsHandler) userSettings(r *http.Request) (*models.UserSetting, error) {
	user := currentUser(r)

	var settings models.UserSetting
	err := db(r).Where("user_id = ?", user.ID).First(&settings).Error
	if err == nil {
		return &settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	settings = models.DefaultUserSetting(user.ID)
	if err := db(r).Create(&settings).Error; err != nil {
		return nil, err
	}
	return &settings, nil
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.userSettings(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	response.Success(w, "Settings retrieved", settings)
}

func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req validation.UserSettingsRequest
	if !decode(w, r, &req) {
		return
	}

	settings, err := h.userSettings(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	if req.Theme != nil {
		settings.Theme = *req.Theme
	}
	if req.Language != nil {
		settings.Language = *req.Language
	}
	if req.Timezone != nil {
		settings.Timezone = *req.Timezone
	}
	if req.EmailNotifications != nil {
		settings.EmailNotifications = *req.EmailNotifications
	}
	if req.PushNotifications != nil {
		settings.PushNotifications = *req.PushNotifications
	}
	if req.Preferences != nil {
		settings.Preferences = models.JSONMap(req.Preferences)
	}

	if err := db(r).Save(settings).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}
	response.Success(w, "Settings updated", settings)
}

// ListSystem shows every setting to admins and only public ones to others.
func (h *SettingsHandler) ListSystem(w http.ResponseWriter, r *http.Request) {
	q := db(r).Order("key")
	if !currentUser(r).IsAdmin() {
		q = q.Where("is_public = ?", true)
	}

	var settings []models.SystemSetting
	if err := q.Find(&settings).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}
	response.Success(w, "System settings retrieved", settings)
}

// PutSystem creates or replaces a setting. Routed behind RequireRole(admin).
func (h *SettingsHandler) PutSystem(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" || len(key) > 100 {
		response.BadRequest(w, "Invalid setting key")
		return
	}

	var req validation.SystemSettingRequest
	if !decode(w, r, &req) {
		return
	}

	user := currentUser(r)
	var setting models.SystemSetting
	err := db(r).Where("key = ?", key).First(&setting).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		h.fail(w, r, err, "")
		return
	}

	setting.Key = key
	setting.Value = req.Value
	if req.Description != nil {
		setting.Description = *req.Description
	}
	if req.IsPublic != nil {
		setting.IsPublic = *req.IsPublic
	}
	setting.UpdatedBy = &user.ID

	if err := db(r).Save(&setting).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}
	response.Success(w, "System setting saved", setting)
}
