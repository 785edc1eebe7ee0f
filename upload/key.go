package upload

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxBaseNameLength = 100

// GenerateKey builds the storage key for an upload:
// <prefix>/<unix millis>_<uuid>_<sanitized base name><ext>.
func GenerateKey(prefix, filename string, now time.Time) string {
	ext := Extension(filename)
	return fmt.Sprintf("%s/%d_%s_%s%s",
		strings.Trim(prefix, "/"), now.UnixMilli(), uuid.New(), SanitizeBaseName(filename), ext)
}

// SanitizeBaseName keeps letters, digits, underscores and dashes of the name
// without its extension, replacing everything else with underscores.
func SanitizeBaseName(filename string) string {
	name := baseName(filename)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := b.String()
	if len(out) > maxBaseNameLength {
		out = out[:maxBaseNameLength]
	}
	if out == "" {
		out = "file"
	}
	return out
}
