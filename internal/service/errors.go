// Package service provides the business logic services for Quill.
package service

import "errors"

// Common service errors.
var (
	// Authentication errors
	ErrInvalidPassword   = errors.New("invalid password: must be at least 6 characters with a letter and a digit")
	ErrInvalidUsername   = errors.New("invalid username: must be 3-20 characters, letters, digits or underscore")
	ErrInvalidEmail      = errors.New("invalid email format")
	ErrPasswordMismatch  = errors.New("password confirmation does not match")
	ErrReservedUsername  = errors.New("username is reserved")
	ErrEmailAlreadyTaken = errors.New("email already in use")

	// Content errors
	ErrArticleFieldsEmpty = errors.New("title, category and content are required")
	ErrCommentTooShort    = errors.New("comment must be at least 2 characters")
	ErrCommentTooLong     = errors.New("comment must be at most 1000 characters")
	ErrInvalidAuthorName  = errors.New("author name must be 2-20 characters")
	ErrSaveInProgress     = errors.New("a save is already in progress")
	ErrAdminUndeletable   = errors.New("the administrator account cannot be deleted")
	ErrAdminUnlockable    = errors.New("the administrator account cannot be locked")
)
