package handlers

import (
	"context"
	"net/http"

	"taskflow/models"
	"taskflow/response"
	"taskflow/upload"

	"gorm.io/gorm"
)

type taskCtxKey struct{}

type AttachmentHandler struct {
	tasks *TaskHandler
}

func NewAttachmentHandler(d Deps) *AttachmentHandler {
	return &AttachmentHandler{tasks: NewTaskHandler(d)}
}

// RequireTaskWriter resolves {taskID} before the request body is read, so
// uploads from callers without write access are never stored.
func (h *AttachmentHandler) RequireTaskWriter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		task, _, ok := h.tasks.writableTask(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), taskCtxKey{}, task)))
	})
}

func (h *AttachmentHandler) List(w http.ResponseWriter, r *http.Request) {
	task, _, ok := h.tasks.loadTask(w, r)
	if !ok {
		return
	}

	var attachments []models.TaskAttachment
	err := db(r).Preload("FileUpload").Where("task_id = ?", task.ID).Order("created_at desc").Find(&attachments).Error
	if err != nil {
		h.tasks.fail(w, r, err, "")
		return
	}
	response.Success(w, "Attachments retrieved", attachments)
}

// Upload runs behind RequireTaskWriter and upload.Middleware.
func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	task, _ := r.Context().Value(taskCtxKey{}).(*models.Task)
	file, ok := upload.FromContext(r.Context())
	if task == nil || !ok {
		response.BadRequest(w, "No file uploaded")
		return
	}
	user := currentUser(r)

	fileUpload := models.FileUpload{
		UploadedBy:   &user.ID,
		OriginalName: file.OriginalName,
		StorageKey:   file.Key,
		MimeType:     file.MimeType,
		SizeBytes:    file.Size,
	}
	attachment := models.TaskAttachment{TaskID: task.ID, UploadedBy: &user.ID}

	err := db(r).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&fileUpload).Error; err != nil {
			return err
		}
		attachment.FileUploadID = fileUpload.ID
		return tx.Omit("FileUpload").Create(&attachment).Error
	})
	if err != nil {
		h.discard(r, file.Key)
		h.tasks.fail(w, r, err, "")
		return
	}
	attachment.FileUpload = &fileUpload

	h.tasks.activity(r, models.ActivityLog{
		TeamID: &task.Project.TeamID, EntityType: "task_attachment", EntityID: attachment.ID,
		Action: models.ActionCreated, Description: "Attached " + file.OriginalName,
		Metadata: models.JSONMap{"task_id": task.ID.String(), "size_bytes": file.Size},
	})
	response.Created(w, "Attachment uploaded", attachment)
}

func (h *AttachmentHandler) discard(r *http.Request, key string) {
	if err := h.tasks.Store.Delete(r.Context(), key); err != nil {
		h.tasks.Log.WithContext(r.Context()).Warn("Failed to remove stored file", "key", key, "error", err)
	}
}

func (h *AttachmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	task, member, ok := h.tasks.writableTask(w, r)
	if !ok {
		return
	}
	attachmentID, ok := pathID(w, r, "attachmentID")
	if !ok {
		return
	}

	var attachment models.TaskAttachment
	err := db(r).Preload("FileUpload").Where("id = ? AND task_id = ?", attachmentID, task.ID).First(&attachment).Error
	if err != nil {
		h.tasks.fail(w, r, err, "Attachment not found")
		return
	}

	user := currentUser(r)
	own := isAuthor(attachment.UploadedBy, user)
	if !own && !member.CanManage() {
		response.Forbidden(w, "Only the uploader or a team admin can remove this attachment")
		return
	}

	err = db(r).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&attachment).Error; err != nil {
			return err
		}
		return tx.Delete(&models.FileUpload{}, "id = ?", attachment.FileUploadID).Error
	})
	if err != nil {
		h.tasks.fail(w, r, err, "")
		return
	}
	if attachment.FileUpload != nil {
		h.discard(r, attachment.FileUpload.StorageKey)
	}

	h.tasks.activity(r, models.ActivityLog{
		TeamID: &task.Project.TeamID, EntityType: "task_attachment", EntityID: attachment.ID,
		Action: models.ActionDeleted, Metadata: models.JSONMap{"task_id": task.ID.String()},
	})
	response.Success(w, "Attachment deleted", nil)
}
