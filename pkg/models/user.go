package models

// User identity is opaque to the core pipeline; it is referenced only by
// UserID throughout Store, Matcher, and Runtime.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}
