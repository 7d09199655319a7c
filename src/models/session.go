package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is the server-side record behind a session cookie, stored in
// Redis under session:{id} with a TTL matching ExpiresAt.
//
// DEK holds the user's unwrapped 32-byte data encryption key in plaintext
// for the lifetime of the session. Every chunk encrypt/decrypt reads it
// directly; the trade-off is documented in DESIGN.md.
type Session struct {
	UserID    uuid.UUID `json:"user_id"`
	DEK       []byte    `json:"dek"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
