package handlers

import (
	"net/http"

	"taskflow/models"
	"taskflow/query"
	"taskflow/response"
)

var notificationListOptions = query.Options{
	SortColumns:   []string{"created_at"},
	FilterColumns: []string{"is_read", "type", "entity_type"},
}

type NotificationHandler struct {
	Deps
}

func NewNotificationHandler(d Deps) *NotificationHandler {
	return &NotificationHandler{Deps: d}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := listParams(w, r, notificationListOptions)
	if !ok {
		return
	}
	base := db(r).Model(&models.Notification{}).Where("user_id = ?", currentUser(r).ID)

	var notifications []models.Notification
	page, err := query.Paginate(base, p, &notifications)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	response.Paginated(w, "Notifications retrieved", page)
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	var count int64
	err := db(r).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", currentUser(r).ID, false).
		Count(&count).Error
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	response.Success(w, "Unread notifications counted", map[string]int64{"count": count})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "notificationID")
	if !ok {
		return
	}

	result := db(r).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, currentUser(r).ID).
		Updates(map[string]interface{}{"is_read": true, "read_at": h.now()})
	if result.Error != nil {
		h.fail(w, r, result.Error, "")
		return
	}
	if result.RowsAffected == 0 {
		response.NotFound(w, "Notification not found")
		return
	}
	response.Success(w, "Notification marked as read", nil)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	result := db(r).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", currentUser(r).ID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": h.now()})
	if result.Error != nil {
		h.fail(w, r, result.Error, "")
		return
	}
	response.Success(w, "All notifications marked as read", map[string]int64{"updated": result.RowsAffected})
}

func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "notificationID")
	if !ok {
		return
	}

	result := db(r).Where("id = ? AND user_id = ?", id, currentUser(r).ID).Delete(&models.Notification{})
	if result.Error != nil {
		h.fail(w, r, result.Error, "")
		return
	}
	if result.RowsAffected == 0 {
		response.NotFound(w, "Notification not found")
		return
	}
	response.Success(w, "Notification deleted", nil)
}
