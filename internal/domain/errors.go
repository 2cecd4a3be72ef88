// Package domain contains the core business entities for Quill.
package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (storage backend, network).

var (
	// ErrInvalidInput indicates client-side validation failed. Recoverable;
	// surfaced as a notification; no state is mutated.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPermissionDenied indicates an authorization failure.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound indicates a referenced entity is missing.
	ErrNotFound = errors.New("not found")

	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates a user with the same username/email exists.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrInvalidCredentials indicates the password did not match.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked indicates a temporary authentication block after
	// repeated failures. Recoverable once the lockout elapses.
	ErrAccountLocked = errors.New("account locked")

	// ErrStorageUnavailable indicates the storage backend is inaccessible.
	// The adapter degrades to in-memory-only operation; not fatal.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrStorageCorruption indicates detected data loss or shape mismatch.
	// Triggers the repair policy; not surfaced unless repair itself fails.
	ErrStorageCorruption = errors.New("storage corruption detected")

	// ErrInitializationFailure indicates a required startup stage failed.
	// Fatal to the startup pipeline; forces the logged-out state.
	ErrInitializationFailure = errors.New("initialization failure")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g. article id, username).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}
