package models

import "time"

// Session is the registry record that counts a user as online.
// One per user; a newer login replaces it.
type Session struct {
	UserID        string    `json:"user_id"`
	IssuedToken   string    `json:"token"`
	ClientAddress string    `json:"ip,omitempty"`
	ClientAgent   string    `json:"user_agent,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}
