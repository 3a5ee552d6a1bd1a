// Package domain contains domain errors used throughout the application.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrNoProcessID      = errors.New("no process id found in output")
	ErrSubscriberClosed = errors.New("subscriber is closed")
)

// SyncError represents a failed synchronization attempt.
type SyncError struct {
	Method   string // transfer tool that failed
	ExitCode int
	Output   string
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync via %s failed: exit code %d: %s", e.Method, e.ExitCode, e.Output)
}

// NewSyncError creates a new SyncError.
func NewSyncError(method string, exitCode int, output string) *SyncError {
	return &SyncError{
		Method:   method,
		ExitCode: exitCode,
		Output:   output,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
