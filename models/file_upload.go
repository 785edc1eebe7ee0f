package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FileUpload struct {
	Base
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
	UploadedBy   *uuid.UUID     `gorm:"type:uuid" json:"uploaded_by,omitempty"`
	OriginalName string         `gorm:"not null;size:255" json:"original_name"`
	StorageKey   string         `gorm:"uniqueIndex;not null;size:512" json:"storage_key"`
	MimeType     string         `gorm:"not null;size:255" json:"mime_type"`
	SizeBytes    int64          `gorm:"not null" json:"size_bytes"`
}
