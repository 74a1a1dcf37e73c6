package models

import "time"

// UsageCounter tracks metered consumption for one user within one billing
// period. The count is monotonically non-decreasing inside a period; rollover
// happens logically through a fresh period key, never by resetting rows.
type UsageCounter struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:uuid;not null;uniqueIndex:idx_usage_user_period" json:"user_id"`
	PeriodKey string    `gorm:"size:7;not null;uniqueIndex:idx_usage_user_period" json:"period_key"`
	Count     int64     `gorm:"not null;default:0" json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PeriodKeyFor formats the billing period key for an instant, one calendar
// month per period, in UTC.
func PeriodKeyFor(t time.Time) string {
	return t.UTC().Format("2006-01")
}
