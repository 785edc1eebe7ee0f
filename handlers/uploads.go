package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"taskflow/models"
	"taskflow/response"
	"taskflow/upload"

	"gorm.io/gorm"
)

type UploadHandler struct {
	Deps
}

func NewUploadHandler(d Deps) *UploadHandler {
	return &UploadHandler{Deps: d}
}

// Create records a file stored by upload.Middleware.
func (h *UploadHandler) Create(w http.ResponseWriter, r *http.Request) {
	file, ok := upload.FromContext(r.Context())
	if !ok {
		response.BadRequest(w, "No file uploaded")
		return
	}
	user := currentUser(r)

	record := models.FileUpload{
		UploadedBy:   &user.ID,
		OriginalName: file.OriginalName,
		StorageKey:   file.Key,
		MimeType:     file.MimeType,
		SizeBytes:    file.Size,
	}
	if err := db(r).Create(&record).Error; err != nil {
		if derr := h.Store.Delete(r.Context(), file.Key); derr != nil {
			h.Log.WithContext(r.Context()).Warn("Failed to remove stored file", "key", file.Key, "error", derr)
		}
		h.fail(w, r, err, "")
		return
	}
	response.Created(w, "File uploaded", record)
}

// readable loads {uploadID} if the caller uploaded it, is an admin, or can
// see a task it is attached to.
func (h *UploadHandler) readable(w http.ResponseWriter, r *http.Request) (*models.FileUpload, bool) {
	id, ok := pathID(w, r, "uploadID")
	if !ok {
		return nil, false
	}

	var record models.FileUpload
	if err := db(r).First(&record, "id = ?", id).Error; err != nil {
		h.fail(w, r, err, "File not found")
		return nil, false
	}

	user := currentUser(r)
	if user.IsAdmin() || isAuthor(record.UploadedBy, user) {
		return &record, true
	}

	var attachments []models.TaskAttachment
	if err := db(r).Where("file_upload_id = ?", record.ID).Find(&attachments).Error; err != nil {
		h.fail(w, r, err, "")
		return nil, false
	}
	for _, a := range attachments {
		_, _, err := taskAccess(r.Context(), user, a.TaskID)
		if err == nil {
			return &record, true
		}
		var fe *forbiddenError
		if !errors.As(err, &fe) && !errors.Is(err, gorm.ErrRecordNotFound) {
			h.fail(w, r, err, "")
			return nil, false
		}
	}
	response.NotFound(w, "File not found")
	return nil, false
}

func (h *UploadHandler) Get(w http.ResponseWriter, r *http.Request) {
	record, ok := h.readable(w, r)
	if !ok {
		return
	}
	response.Success(w, "File retrieved", record)
}

func (h *UploadHandler) Download(w http.ResponseWriter, r *http.Request) {
	record, ok := h.readable(w, r)
	if !ok {
		return
	}

	rc, err := h.Store.Open(r.Context(), record.StorageKey)
	if err != nil {
		h.fail(w, r, fmt.Errorf("open %s: %w", record.StorageKey, err), "")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", record.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(record.SizeBytes, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": record.OriginalName}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		h.Log.WithContext(r.Context()).Warn("Download interrupted", "upload_id", record.ID, "error", err)
	}
}

func (h *UploadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "uploadID")
	if !ok {
		return
	}

	var record models.FileUpload
	if err := db(r).First(&record, "id = ?", id).Error; err != nil {
		h.fail(w, r, err, "File not found")
		return
	}
	user := currentUser(r)
	if !user.IsAdmin() && !isAuthor(record.UploadedBy, user) {
		response.Forbidden(w, "Only the uploader or an admin can delete this file")
		return
	}

	err := db(r).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_upload_id = ?", record.ID).Delete(&models.TaskAttachment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&record).Error
	})
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	if err := h.Store.Delete(r.Context(), record.StorageKey); err != nil {
		h.Log.WithContext(r.Context()).Warn("Failed to remove stored file", "key", record.StorageKey, "error", err)
	}
	response.Success(w, "File deleted", nil)
}
