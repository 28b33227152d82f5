package model

import "time"

// EmergencyContact is someone alerted when a session goes overdue.
// Lower Priority sends first (1 = primary). Opted-out contacts are kept
// on record but never messaged.
type EmergencyContact struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"` // E.164, normalized before storage
	Priority  int       `json:"priority"`
	OptedOut  bool      `json:"optedOut"`
	CreatedAt time.Time `json:"createdAt"`
}
