package domain

import (
	"time"
)

// TextRecord is the sole persisted entity: a pasted text addressable by a
// short id until it expires.
type TextRecord struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	LockHash  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Views     int       `json:"views"`
	Locked    bool      `json:"locked"`
}

// Live reports whether the record is still observable at the given instant.
func (t *TextRecord) Live(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

type CreateParams struct {
	Content string
}

type UpdateParams struct {
	Content  string
	Password string
}
