package handlers

import (
	"net/http"
	"strings"

	"taskflow/models"
	"taskflow/notifier"
	"taskflow/query"
	"taskflow/response"
	"taskflow/validation"

	"github.com/google/uuid"
)

var commentListOptions = query.Options{
	SortColumns:      []string{"created_at", "updated_at"},
	FilterColumns:    []string{"user_id", "parent_id"},
	DefaultSortOrder: query.SortAsc,
}

type CommentHandler struct {
	tasks *TaskHandler
}

func NewCommentHandler(d Deps) *CommentHandler {
	return &CommentHandler{tasks: NewTaskHandler(d)}
}

func (h *CommentHandler) List(w http.ResponseWriter, r *http.Request) {
	task, _, ok := h.tasks.loadTask(w, r)
	if !ok {
		return
	}

	p, ok := listParams(w, r, commentListOptions)
	if !ok {
		return
	}
	base := db(r).Model(&models.Comment{}).Where("task_id = ?", task.ID)

	var comments []models.Comment
	page, err := query.Paginate(base, p, &comments, query.Preload("User"))
	if err != nil {
		h.tasks.fail(w, r, err, "")
		return
	}
	response.Paginated(w, "Comments retrieved", page)
}

func (h *CommentHandler) Create(w http.ResponseWriter, r *http.Request) {
	task, _, ok := h.tasks.loadTask(w, r)
	if !ok {
		return
	}
	user := currentUser(r)

	var req validation.CommentRequest
	if !decode(w, r, &req) {
		return
	}

	comment := models.Comment{
		TaskID:   task.ID,
		UserID:   &user.ID,
		ParentID: optionalID(req.ParentID),
		Content:  strings.TrimSpace(req.Content),
	}
	if comment.ParentID != nil {
		var count int64
		if err := db(r).Model(&models.Comment{}).Where("id = ? AND task_id = ?", *comment.ParentID, task.ID).Count(&count).Error; err != nil {
			h.tasks.fail(w, r, err, "")
			return
		}
		if count == 0 {
			response.BadRequest(w, "Parent comment not found in this task")
			return
		}
	}

	if err := db(r).Omit("User").Create(&comment).Error; err != nil {
		h.tasks.fail(w, r, err, "")
		return
	}
	comment.User = user

	h.tasks.activity(r, models.ActivityLog{
		TeamID: &task.Project.TeamID, EntityType: "comment", EntityID: comment.ID,
		Action: models.ActionCreated, Metadata: models.JSONMap{"task_id": task.ID.String()},
	})
	h.tasks.notifyUsers(r, []*uuid.UUID{task.AssigneeID, task.ReporterID}, notifier.Request{
		Type:       models.NotificationTaskComment,
		Title:      "New comment on " + task.Title,
		Message:    user.DisplayName() + " commented on the task",
		EntityType: "task",
		EntityID:   &task.ID,
	})
	response.Created(w, "Comment added", comment)
}

// loadComment resolves {commentID} and the caller's access to its task.
func (h *CommentHandler) loadComment(w http.ResponseWriter, r *http.Request) (*models.Comment, *models.Task, *models.TeamMember, bool) {
	commentID, ok := pathID(w, r, "commentID")
	if !ok {
		return nil, nil, nil, false
	}

	var comment models.Comment
	if err := db(r).First(&comment, "id = ?", commentID).Error; err != nil {
		h.tasks.fail(w, r, err, "Comment not found")
		return nil, nil, nil, false
	}
	task, member, err := taskAccess(r.Context(), currentUser(r), comment.TaskID)
	if err != nil {
		h.tasks.fail(w, r, err, "Comment not found")
		return nil, nil, nil, false
	}
	return &comment, task, member, true
}

func isAuthor(userID *uuid.UUID, user *models.User) bool {
	return userID != nil && *userID == user.ID
}

func (h *CommentHandler) Update(w http.ResponseWriter, r *http.Request) {
	comment, task, _, ok := h.loadComment(w, r)
	if !ok {
		return
	}
	if !isAuthor(comment.UserID, currentUser(r)) {
		response.Forbidden(w, "You can only edit your own comments")
		return
	}

	var req validation.CommentRequest
	if !decode(w, r, &req) {
		return
	}

	comment.Content = strings.TrimSpace(req.Content)
	comment.IsEdited = true
	err := db(r).Model(comment).Updates(map[string]interface{}{"content": comment.Content, "is_edited": true}).Error
	if err != nil {
		h.tasks.fail(w, r, err, "")
		return
	}

	h.tasks.activity(r, models.ActivityLog{
		TeamID: &task.Project.TeamID, EntityType: "comment", EntityID: comment.ID,
		Action: models.ActionUpdated, Metadata: models.JSONMap{"task_id": task.ID.String()},
	})
	response.Success(w, "Comment updated", comment)
}

func (h *CommentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	comment, task, member, ok := h.loadComment(w, r)
	if !ok {
		return
	}
	if !isAuthor(comment.UserID, currentUser(r)) && !member.CanManage() {
		response.Forbidden(w, "You can only delete your own comments")
		return
	}

	if err := db(r).Delete(comment).Error; err != nil {
		h.tasks.fail(w, r, err, "")
		return
	}

	h.tasks.activity(r, models.ActivityLog{
		TeamID: &task.Project.TeamID, EntityType: "comment", EntityID: comment.ID,
		Action: models.ActionDeleted, Metadata: models.JSONMap{"task_id": task.ID.String()},
	})
	response.Success(w, "Comment deleted", nil)
}
