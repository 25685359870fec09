package audit

import "time"

// Entry is one recorded account or task action. UserID is nil for guests.
type Entry struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"user_id"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"ts"`
}

type Filter struct {
	UserID       *int64
	GuestsOnly   bool
	ActionPrefix string
	Since        time.Time
	Limit        int
}
