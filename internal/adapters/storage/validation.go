package storage

import (
	"fmt"
	"strings"
)

// AllowedContentTypes defines the MIME types that may be stored.
var AllowedContentTypes = map[string]bool{
	// Audio
	"audio/mpeg":  true,
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/ogg":   true,
	"audio/webm":  true,

	// Transcripts
	"application/json": true,
	"text/plain":       true,
}

// ValidateContentType checks if the content type is allowed.
func ValidateContentType(contentType string) error {
	// Normalize content type (remove parameters like charset)
	normalized := strings.Split(contentType, ";")[0]
	normalized = strings.TrimSpace(strings.ToLower(normalized))

	if !AllowedContentTypes[normalized] {
		return fmt.Errorf("content type %q is not allowed", contentType)
	}
	return nil
}

// ValidateFileSize checks if the file size is within limits. A size of -1
// means unknown and is accepted; MinIO then streams a multipart upload.
func ValidateFileSize(sizeBytes int64) error {
	if sizeBytes == 0 || sizeBytes < -1 {
		return fmt.Errorf("file size must be greater than 0")
	}
	if sizeBytes > MaxFileSize {
		return fmt.Errorf("file size %d bytes exceeds maximum allowed size of %d bytes", sizeBytes, MaxFileSize)
	}
	return nil
}
