package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserStatus is the derived compliance state of an account. The gate
// evaluator is the sole writer; everything else treats it as read-only.
type UserStatus string

const (
	// StatusUnverified means the account has not proven email ownership yet.
	StatusUnverified UserStatus = "unverified"
	// StatusPendingTerms means the email is verified but the current terms
	// version has not been accepted.
	StatusPendingTerms UserStatus = "pending_terms"
	// StatusActive means all account-wide gates pass.
	StatusActive UserStatus = "active"
	// StatusSuspended is an administrative hold that outranks everything.
	StatusSuspended UserStatus = "suspended"
)

// Valid reports whether s is one of the defined statuses.
func (s UserStatus) Valid() bool {
	switch s {
	case StatusUnverified, StatusPendingTerms, StatusActive, StatusSuspended:
		return true
	}
	return false
}

// User is the identity record the gating core reads flags from and writes
// derived status back to. Credentials and login live elsewhere.
type User struct {
	ID    string `gorm:"primaryKey;type:uuid" json:"id"`
	Email string `gorm:"uniqueIndex;not null" json:"email"`

	// PendingEmail holds the target of an in-flight email change. The swap
	// happens when the matching email_change token is consumed.
	PendingEmail string `json:"pending_email,omitempty"`

	Status UserStatus `gorm:"type:varchar(32);not null;default:unverified" json:"status"`
	PlanID string     `gorm:"not null;default:free;index" json:"plan_id"`
	Plan   *Plan      `gorm:"foreignKey:PlanID" json:"plan,omitempty"`

	EmailVerifiedAt *time.Time `json:"email_verified_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Status == "" {
		u.Status = StatusUnverified
	}
	return nil
}
