package models

import "time"

// User is an account created through an OAuth provider.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// OAuthAccount links a provider identity to a user.
type OAuthAccount struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Provider        string    `json:"provider"`
	ProviderSubject string    `json:"provider_subject"`
	EmailAtAuth     string    `json:"email_at_auth,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
