package models

import (
	"time"
)

// User represents the normalized identity returned by a provider
type User struct {
	ID      string            `json:"id"`
	Email   string            `json:"email,omitempty"`
	Name    string            `json:"name,omitempty"`
	Picture string            `json:"picture,omitempty"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// Session represents the authenticated identity for the current process
type Session struct {
	User         User       `json:"user"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Valid reports whether the session satisfies the minimum invariant:
// a non-empty access token and a user ID
func (s *Session) Valid() bool {
	return s != nil && s.AccessToken != "" && s.User.ID != ""
}

// Expired reports whether the session has expired relative to now.
// A session without an expiry never expires locally; the backend is the
// ultimate authority in that case
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt == nil {
		return false
	}
	return !s.ExpiresAt.After(now)
}

// ProviderDescriptor holds static configuration for one identity provider
type ProviderDescriptor struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}
