package workflow

import (
	"errors"

	"thesisflow/api/internal/store"
)

var (
	ErrForbidden     = errors.New("not a participant of this conversation")
	ErrVersionClosed = errors.New("version is closed")

	ErrStorageUnavailable = errors.New("blob storage not configured")
	// ErrOpenVersionConflict means a concurrent submission opened a version first.
	ErrOpenVersionConflict = store.ErrOpenVersionConflict
)

// ValidationError reports a missing or malformed input field. It is always
// returned before any record or blob is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
