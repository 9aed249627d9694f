package models

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// SourceFile is a read-only handle to a video on disk. The engine only
// references it; the bytes are never modified.
type SourceFile struct {
	Path        string
	Name        string
	Size        int64
	ContentType string
}

// OpenSourceFile stats path and sniffs its content type from the leading bytes.
// Bytes the sniffer cannot classify leave ContentType empty.
func OpenSourceFile(path string) (SourceFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return SourceFile{}, fmt.Errorf("failed to stat source file: %w", err)
	}
	if info.IsDir() {
		return SourceFile{}, fmt.Errorf("source file %s is a directory", path)
	}

	contentType := ""
	if info.Size() > 0 {
		mtype, err := mimetype.DetectFile(path)
		if err != nil {
			return SourceFile{}, fmt.Errorf("failed to detect content type: %w", err)
		}
		switch {
		case mtype.Is("video/mp4"):
			contentType = "video/mp4"
		case mtype.Is("application/octet-stream"):
			// unrecognised brand, leave it unknown
		default:
			contentType = mtype.String()
		}
	}

	return SourceFile{
		Path:        path,
		Name:        filepath.Base(path),
		Size:        info.Size(),
		ContentType: contentType,
	}, nil
}
