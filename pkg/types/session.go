package types

import "time"

// Session is a short-lived login session. Sessions live in the local session
// store only and are never mirrored to the remote backend.
type Session struct {
	// ID is the opaque session token.
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	ExpiresAt time.Time         `json:"expires_at"`
	Claims    map[string]string `json:"claims,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Expired reports whether the session has passed its expiry at the given
// instant.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
