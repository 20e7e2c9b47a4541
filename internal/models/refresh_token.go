package models

import "time"

// RefreshToken is the persisted side of a refresh JWT. Only the hash of the
// token is stored.
type RefreshToken struct {
	ID           string
	UserID       string
	TokenHash    string
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	ReplacedByID string
	CreatedAt    time.Time
}

// Active reports whether the token can still be exchanged at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
