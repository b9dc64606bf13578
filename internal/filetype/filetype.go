// Package filetype classifies attachments into broad categories for
// reporting. Classification is by filename extension with a MIME-type
// fallback; nothing is ever sniffed from content.
package filetype

import (
	"path/filepath"
	"strings"
)

// Category groups attachment types for report rollups.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryVideo    Category = "video"
	CategoryDocument Category = "document"
	CategoryArchive  Category = "archive"
	CategoryOther    Category = "other"
)

// NoExtension is the sentinel extension for files without a recognizable
// suffix.
const NoExtension = "no-extension"

var imageExts = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true,
	"bmp": true, "webp": true, "tiff": true, "tif": true,
	"svg": true, "heic": true, "heif": true,
}

var videoExts = map[string]bool{
	"mp4": true, "mov": true, "avi": true, "mkv": true,
	"wmv": true, "flv": true, "webm": true, "m4v": true,
}

var documentExts = map[string]bool{
	"pdf": true, "doc": true, "docx": true, "xls": true,
	"xlsx": true, "ppt": true, "pptx": true, "txt": true,
	"odt": true, "ods": true, "odp": true, "csv": true,
	"md": true, "log": true,
}

var archiveExts = map[string]bool{
	"zip": true, "gz": true, "tgz": true, "tar": true,
	"rar": true, "7z": true, "bz2": true, "xz": true,
}

// Extension returns the lowercased extension of fileName without the dot,
// or NoExtension when the name carries no usable suffix.
func Extension(fileName string) string {
	ext := strings.TrimPrefix(filepath.Ext(fileName), ".")
	if ext == "" {
		return NoExtension
	}
	return strings.ToLower(ext)
}

// Detect returns the Category for an attachment given its filename and
// MIME type.
func Detect(fileName, mimeType string) Category {
	ext := Extension(fileName)
	switch {
	case imageExts[ext]:
		return CategoryImage
	case videoExts[ext]:
		return CategoryVideo
	case documentExts[ext]:
		return CategoryDocument
	case archiveExts[ext]:
		return CategoryArchive
	}

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return CategoryImage
	case strings.HasPrefix(mimeType, "video/"):
		return CategoryVideo
	case strings.HasPrefix(mimeType, "text/"):
		return CategoryDocument
	}
	return CategoryOther
}
