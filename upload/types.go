package upload

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const octetStream = "application/octet-stream"

// allowedTypes maps each accepted extension to the content types it may
// arrive with.
var allowedTypes = map[string][]string{
	".pdf":  {"application/pdf"},
	".doc":  {"application/msword"},
	".docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	".xls":  {"application/vnd.ms-excel"},
	".xlsx": {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	".ppt":  {"application/vnd.ms-powerpoint"},
	".pptx": {"application/vnd.openxmlformats-officedocument.presentationml.presentation"},
	".csv":  {"text/csv", "application/vnd.ms-excel", "text/plain"},
	".txt":  {"text/plain"},
	".json": {"application/json", "text/plain"},
	".png":  {"image/png"},
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".gif":  {"image/gif"},
	".webp": {"image/webp"},
	".zip":  {"application/zip", "application/x-zip-compressed"},
	// Power BI reports are zip containers that browsers rarely label
	".pbix": {"application/zip", "application/x-zip-compressed", octetStream},
}

// Extension returns the lowercased extension of a client supplied file name.
func Extension(filename string) string {
	return strings.ToLower(filepath.Ext(baseName(filename)))
}

// AllowedExtension reports whether files with ext may be uploaded.
func AllowedExtension(ext string) bool {
	_, ok := allowedTypes[strings.ToLower(ext)]
	return ok
}

// ResolveType decides the content type to record for an upload and whether
// it is acceptable. The declared type wins unless it is missing or generic,
// in which case the sniffed content is used.
func ResolveType(filename, declared string, head []byte) (string, error) {
	ext := Extension(filename)
	allowed, ok := allowedTypes[ext]
	if !ok {
		return "", ErrFileTypeNotAllowed
	}

	effective := mediaType(declared)
	if effective == "" || effective == octetStream {
		effective = mediaType(mimetype.Detect(head).String())
	}

	for _, t := range allowed {
		if t == effective {
			return effective, nil
		}
	}
	return "", ErrFileTypeNotAllowed
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// baseName strips any client side directories, including Windows ones.
func baseName(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	return filename
}
