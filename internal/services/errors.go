package services

import (
	"errors"
	"fmt"
)

// Precondition errors abort an operation before any write.
var (
	// ErrAlreadyRemoved is returned when the target team member was
	// already soft-deleted, including by a racing removal.
	ErrAlreadyRemoved = errors.New("team member already removed")

	// ErrTeamArchived is returned when a mutation targets a project of
	// an archived team.
	ErrTeamArchived = errors.New("team is archived")
)

// NotFoundError indicates a referenced team, member, project or user
// does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// NewNotFound builds a NotFoundError for the given entity kind and id.
func NewNotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ValidationError indicates malformed input, e.g. a bad compound id.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IntegrationCleanupError wraps a failure of the best-effort external
// integration teardown. It never unwinds the committed membership change.
type IntegrationCleanupError struct {
	UserID string
	Err    error
}

func (e *IntegrationCleanupError) Error() string {
	return fmt.Sprintf("integration cleanup for user %s failed: %v", e.UserID, e.Err)
}

func (e *IntegrationCleanupError) Unwrap() error { return e.Err }
