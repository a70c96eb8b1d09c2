package types

import "github.com/google/uuid"

// NewID returns a fresh UUID v7 identifier. V7 keeps identifiers roughly
// time-ordered, which keeps listing order stable for records created in
// the same instant.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
