package model

import "time"

// MagicLink is a single authentication attempt. Only the HMAC of the emailed
// token is persisted.
type MagicLink struct {
	TokenHash string
	EmailHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the link is past its expiry at now.
func (m *MagicLink) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}
