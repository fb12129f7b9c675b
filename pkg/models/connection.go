package models

import "time"

// Connection links a user's provider account to the SaaS-connector SDK's
// own connectionId. Unique per (UserID, Provider).
type Connection struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	Provider           string    `json:"provider"`
	ExternalConnection string    `json:"external_connection_id"`
	Enabled            bool      `json:"enabled"`
	ErrorCount         int       `json:"error_count"`
	LastPollAt         time.Time `json:"last_poll_at,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
