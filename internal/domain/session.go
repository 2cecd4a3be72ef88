package domain

import "time"

// Session is the transient record proving a user is authenticated.
// It is a projection of a User, not an entity with independent identity:
// it lives in memory and under a single well-known store key. Absence
// means "logged out".
type Session struct {
	// ID is the unique identifier for this session.
	ID string `json:"id"`

	// Username is the authenticated user's username.
	Username string `json:"username"`

	// IsAdmin snapshots the user's admin status at login time.
	IsAdmin bool `json:"isAdmin"`

	// Email snapshots the user's email at login time.
	Email string `json:"email"`

	// LoginTime is the instant the session was created.
	LoginTime time.Time `json:"loginTime"`

	// SessionExpiry is the absolute expiry instant. Login-created sessions
	// set it to LoginTime plus the configured TTL; registration-created
	// sessions leave it nil for parity with the original system.
	SessionExpiry *time.Time `json:"sessionExpiry"`
}

// Expired reports whether an expiry is set and has passed.
func (s *Session) Expired(now time.Time) bool {
	return s.SessionExpiry != nil && now.After(*s.SessionExpiry)
}
