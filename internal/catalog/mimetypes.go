package catalog

import (
	"path/filepath"
	"strings"
)

// VideoExtensions is the allow-list of source extensions surfaced by the catalog.
var VideoExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mkv": true,
	".mov": true,
}

// MimeTypes maps lower-cased file extensions to content types. It also covers
// formats the catalog does not list so transcoded outputs and fallbacks resolve.
var MimeTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".ts":   "video/mp2t",
	".3gp":  "video/3gpp",
}

// IsVideoFile reports whether name has an allow-listed extension (case-insensitive).
func IsVideoFile(name string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(name))]
}

// MimeType returns the content type for a path based on its extension,
// or "application/octet-stream" when unknown.
func MimeType(path string) string {
	if mime, ok := MimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mime
	}
	return "application/octet-stream"
}
