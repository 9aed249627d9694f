package upload

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/google/uuid"

	"videoflow/internal/models"
)

const (
	// DefaultMaxFileSize is the largest video accepted unless configured otherwise.
	DefaultMaxFileSize int64 = 2 * units.GiB

	videoExtension   = ".mp4"
	videoContentType = "video/mp4"
	// what sniffers report for bytes they cannot classify
	unknownContentType = "application/octet-stream"
)

// ValidateVideoFile checks type, emptiness and size of a file. An empty or
// application/octet-stream content type means unknown and is not held
// against the file.
func ValidateVideoFile(file models.SourceFile, maxSize int64) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	name := file.Name
	if name == "" {
		name = filepath.Base(file.Path)
	}

	if file.Size <= 0 {
		return &ValidationError{Field: "size", Reason: "file is empty"}
	}
	if ext := strings.ToLower(filepath.Ext(name)); ext != videoExtension {
		return &ValidationError{Field: "file type", Reason: fmt.Sprintf("%q is not an %s file", name, videoExtension)}
	}
	if file.ContentType != "" && file.ContentType != unknownContentType && file.ContentType != videoContentType {
		return &ValidationError{Field: "content type", Reason: fmt.Sprintf("%s is not %s", file.ContentType, videoContentType)}
	}
	if file.Size > maxSize {
		return &ValidationError{
			Field:  "size",
			Reason: fmt.Sprintf("%s exceeds the maximum of %s", units.BytesSize(float64(file.Size)), units.BytesSize(float64(maxSize))),
		}
	}
	return nil
}

func validateIDs(mallID, pinID string) error {
	if _, err := uuid.Parse(mallID); err != nil {
		return &ValidationError{Field: "mall id", Reason: err.Error()}
	}
	if _, err := uuid.Parse(pinID); err != nil {
		return &ValidationError{Field: "pin id", Reason: err.Error()}
	}
	return nil
}

// TotalParts is ceil(size / partSize).
func TotalParts(size, partSize int64) int {
	if size <= 0 || partSize <= 0 {
		return 0
	}
	return int((size + partSize - 1) / partSize)
}

// PartRange returns the offset and length of a 1-indexed part.
func PartRange(partNumber int, partSize, fileSize int64) (offset, length int64) {
	offset = int64(partNumber-1) * partSize
	end := offset + partSize
	if end > fileSize {
		end = fileSize
	}
	return offset, end - offset
}
