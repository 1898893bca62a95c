package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when a session does not exist or does not
// belong to the requesting owner. Ownership violations are deliberately
// indistinguishable from absence.
var ErrSessionNotFound = errors.New("session not found")

// ErrStoreConflict signals a concurrent-write anomaly at a durable store.
// Store implementations retry once internally before surfacing it.
var ErrStoreConflict = errors.New("store write conflict")

// ValidationError reports bad or missing request input. It is the only error
// kind that surfaces to the caller before any work starts.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError constructs a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// WorkerTimeoutError indicates a delegated pipeline stage exceeded its
// deadline. The coordinator treats it as a stage failure, never a hang.
type WorkerTimeoutError struct {
	Worker   string
	Stage    int
	Deadline time.Duration
}

func (e *WorkerTimeoutError) Error() string {
	return fmt.Sprintf("worker %s (stage %d) exceeded deadline of %s", e.Worker, e.Stage, e.Deadline)
}

// WorkerFailureError indicates a delegated pipeline stage returned an error.
type WorkerFailureError struct {
	Worker string
	Stage  int
	Err    error
}

func (e *WorkerFailureError) Error() string {
	return fmt.Sprintf("worker %s (stage %d) failed: %v", e.Worker, e.Stage, e.Err)
}

func (e *WorkerFailureError) Unwrap() error { return e.Err }

// ConfigCollisionError reports that a user-supplied directive collides with a
// safety-critical base directive. Composition refuses to proceed; the request
// degrades to quick-mode direct answering instead of failing outright.
type ConfigCollisionError struct {
	UserDirective string
	BaseDirective string
}

func (e *ConfigCollisionError) Error() string {
	return fmt.Sprintf("user directive %q collides with base directive %q", e.UserDirective, e.BaseDirective)
}
