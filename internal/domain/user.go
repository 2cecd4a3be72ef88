// Package domain contains the core business entities for Quill.
// These are pure Go structs with no external dependencies, representing
// the fundamental concepts of the blog engine.
package domain

import (
	"regexp"
	"time"
)

// AdminUsername is the reserved username of the one privileged account.
// Exactly one user with this name and IsAdmin set exists at all times after
// initialization; it can never be deleted or locked.
const AdminUsername = "admin"

// AdminDisplayName is the fixed display name used when the admin account
// authors a comment.
const AdminDisplayName = "Administrator"

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

// User represents a registered user in the system.
type User struct {
	// ID is the unique identifier for the user.
	ID string `json:"id"`

	// Username is the unique username for login and display.
	// Constraints: 3-20 characters, letters, digits and underscore.
	Username string `json:"username"`

	// PasswordDigest holds the bcrypt digest of the user's password.
	// Records imported from the legacy system carry a "legacy:" prefixed
	// checksum instead. Never exposed in API responses.
	PasswordDigest string `json:"passwordDigest"`

	// IsAdmin indicates whether the user has administrative privileges.
	IsAdmin bool `json:"isAdmin"`

	// Email is the user's email address.
	Email string `json:"email"`

	// CreatedAt is the timestamp when the user was created.
	CreatedAt time.Time `json:"createdAt"`

	// LastLogin is the timestamp of the last successful login.
	LastLogin time.Time `json:"lastLogin"`

	// LoginAttempts counts consecutive failed login attempts.
	// Reset to zero on a successful login.
	LoginAttempts int `json:"loginAttempts"`

	// LockedUntil, when non-nil and in the future, blocks authentication.
	LockedUntil *time.Time `json:"lockedUntil"`

	// IsLocked marks an account locked by an administrator.
	IsLocked bool `json:"isLocked"`
}

// NewUser creates a new non-admin User with default values.
func NewUser(id, username, email, passwordDigest string) *User {
	return &User{
		ID:             id,
		Username:       username,
		Email:          email,
		PasswordDigest: passwordDigest,
		CreatedAt:      time.Now().UTC(),
	}
}

// IsReservedAdmin reports whether this is the reserved administrator account.
func (u *User) IsReservedAdmin() bool {
	return u.Username == AdminUsername
}

// LockedOut reports whether a login lockout is active at the given instant,
// and the remaining lockout duration.
func (u *User) LockedOut(now time.Time) (bool, time.Duration) {
	if u.LockedUntil == nil || !now.Before(*u.LockedUntil) {
		return false, 0
	}
	return true, u.LockedUntil.Sub(now)
}

// Valid reports whether the record carries every required field.
// The user-table repair path filters records that fail this check.
func (u *User) Valid() bool {
	return u.ID != "" && u.Username != "" && u.PasswordDigest != ""
}

// ValidUsername reports whether the given username satisfies the shape
// constraint (3-20 characters, alphanumeric plus underscore).
func ValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}
