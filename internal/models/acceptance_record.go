package models

import "time"

// AcceptanceRecord is one terms-acceptance event. Rows are append-only:
// never updated, never deleted. Each submission is evidentiary, so the same
// version may legitimately appear twice for one user.
type AcceptanceRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     string    `gorm:"type:uuid;not null;index" json:"user_id"`
	Version    int       `gorm:"not null" json:"version"`
	AcceptedAt time.Time `gorm:"not null" json:"accepted_at"`
	SourceIP   string    `gorm:"size:45" json:"source_ip"`
}
