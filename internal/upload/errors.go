package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrUploadCancelled is returned when the caller cancelled the upload.
	ErrUploadCancelled = errors.New("upload cancelled")
	// ErrProtocol is returned when the backend answers with an inconsistent session.
	ErrProtocol = errors.New("upload protocol violation")
)

// ValidationError rejects a file before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError checks if err is, or wraps, a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// SessionAbortFailedError is logged when releasing a session fails. It never
// replaces the error that caused the abort.
type SessionAbortFailedError struct {
	VideoID  string
	UploadID string
	Err      error
}

func (e *SessionAbortFailedError) Error() string {
	return fmt.Sprintf("failed to abort upload session %s (video %s): %v", e.UploadID, e.VideoID, e.Err)
}

func (e *SessionAbortFailedError) Unwrap() error {
	return e.Err
}
