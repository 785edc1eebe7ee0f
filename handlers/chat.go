package handlers

import (
	"net/http"
	"strings"

	"taskflow/models"
	"taskflow/query"
	"taskflow/realtime"
	"taskflow/response"
	"taskflow/validation"
)

var chatListOptions = query.Options{
	SortColumns:       []string{"created_at"},
	SearchableColumns: []string{"message"},
	FilterColumns:     []string{"user_id"},
	DefaultSortOrder:  query.SortAsc,
}

// ChatHandler serves the HTTP side of task chat. Messages posted here reach
// live rooms the same way WebSocket messages do.
type ChatHandler struct {
	tasks *TaskHandler
}

func NewChatHandler(d Deps) *ChatHandler {
	return &ChatHandler{tasks: NewTaskHandler(d)}
}

func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	task, _, ok := h.tasks.loadTask(w, r)
	if !ok {
		return
	}

	p, ok := listParams(w, r, chatListOptions)
	if !ok {
		return
	}
	base := db(r).Model(&models.TaskChat{}).Where("task_id = ?", task.ID)

	var messages []models.TaskChat
	page, err := query.Paginate(base, p, &messages, query.Preload("User"))
	if err != nil {
		h.tasks.fail(w, r, err, "")
		return
	}
	response.Paginated(w, "Messages retrieved", page)
}

func (h *ChatHandler) Post(w http.ResponseWriter, r *http.Request) {
	task, _, ok := h.tasks.loadTask(w, r)
	if !ok {
		return
	}
	user := currentUser(r)

	var req validation.ChatMessageRequest
	if !decode(w, r, &req) {
		return
	}

	chat := models.TaskChat{
		TaskID:    task.ID,
		UserID:    &user.ID,
		ReplyToID: optionalID(req.ReplyToID),
		Message:   strings.TrimSpace(req.Message),
	}
	if chat.ReplyToID != nil {
		var count int64
		if err := db(r).Model(&models.TaskChat{}).Where("id = ? AND task_id = ?", *chat.ReplyToID, task.ID).Count(&count).Error; err != nil {
			h.tasks.fail(w, r, err, "")
			return
		}
		if count == 0 {
			response.BadRequest(w, "Reply target not found in this task")
			return
		}
	}

	if err := db(r).Omit("User").Create(&chat).Error; err != nil {
		h.tasks.fail(w, r, err, "")
		return
	}
	chat.User = user

	h.tasks.broadcast(task.ID, realtime.EventNewMessage, chat)
	response.Created(w, "Message sent", chat)
}

// ownMessage loads {messageID} in the task and checks that the caller wrote it,
// or manages the team when allowManagers is set.
func (h *ChatHandler) ownMessage(w http.ResponseWriter, r *http.Request, allowManagers bool) (*models.TaskChat, bool) {
	task, member, ok := h.tasks.loadTask(w, r)
	if !ok {
		return nil, false
	}
	messageID, ok := pathID(w, r, "messageID")
	if !ok {
		return nil, false
	}

	var chat models.TaskChat
	if err := db(r).Where("id = ? AND task_id = ?", messageID, task.ID).First(&chat).Error; err != nil {
		h.tasks.fail(w, r, err, "Message not found")
		return nil, false
	}

	user := currentUser(r)
	own := isAuthor(chat.UserID, user)
	if !own && !(allowManagers && member.CanManage()) {
		response.Forbidden(w, "You can only change your own messages")
		return nil, false
	}
	return &chat, true
}

func (h *ChatHandler) Edit(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.ownMessage(w, r, false)
	if !ok {
		return
	}

	var req validation.ChatMessageRequest
	if !decode(w, r, &req) {
		return
	}

	now := h.tasks.now()
	chat.Message = strings.TrimSpace(req.Message)
	chat.IsEdited = true
	chat.EditedAt = &now
	err := db(r).Model(chat).Updates(map[string]interface{}{
		"message":   chat.Message,
		"is_edited": true,
		"edited_at": now,
	}).Error
	if err != nil {
		h.tasks.fail(w, r, err, "")
		return
	}
	chat.User = currentUser(r)

	h.tasks.broadcast(chat.TaskID, realtime.EventMessageEdited, chat)
	response.Success(w, "Message updated", chat)
}

func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.ownMessage(w, r, true)
	if !ok {
		return
	}

	if err := db(r).Delete(chat).Error; err != nil {
		h.tasks.fail(w, r, err, "")
		return
	}

	h.tasks.broadcast(chat.TaskID, realtime.EventMessageDeleted, realtime.MessageDeleted{
		TaskID:    chat.TaskID.String(),
		MessageID: chat.ID.String(),
	})
	response.Success(w, "Message deleted", nil)
}
