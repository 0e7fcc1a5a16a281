package model

import "time"

// AccountRef is the persisted identity of a communal account seen
// during a refresh. Subscriptions reference these; the snapshot data
// itself is never persisted.
type AccountRef struct {
	ID                    string `gorm:"primaryKey;size:64"` // Upstream ID
	PersonalAccountNumber string `gorm:"size:32"`
	Address               string `gorm:"size:256"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
