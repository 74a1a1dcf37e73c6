package models

import "time"

// TokenKind distinguishes the two verification flows.
type TokenKind string

const (
	// KindSignup proves ownership of the address given at registration.
	KindSignup TokenKind = "signup"
	// KindEmailChange proves ownership of a new address before the swap.
	KindEmailChange TokenKind = "email_change"
)

// Valid reports whether k is a known token kind.
func (k TokenKind) Valid() bool {
	return k == KindSignup || k == KindEmailChange
}

// VerificationToken stores single-use email ownership tokens. Only the
// SHA-256 hash of the opaque value is persisted. Expired and consumed rows
// are kept for audit; expiry is evaluated lazily at validation time.
type VerificationToken struct {
	BaseModel

	UserID string    `gorm:"type:uuid;not null;index:idx_tokens_user_kind" json:"user_id"`
	Email  string    `gorm:"not null" json:"email"`
	Kind   TokenKind `gorm:"type:varchar(16);not null;index:idx_tokens_user_kind" json:"kind"`

	TokenHash string `gorm:"uniqueIndex;not null" json:"-"`

	IssuedAt  time.Time `gorm:"not null" json:"issued_at"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`

	// ConsumedAt is set exactly once, by an atomic conditional update.
	ConsumedAt *time.Time `json:"consumed_at"`

	// SupersededAt marks tokens invalidated by a later issue of the same
	// kind. Superseded tokens fail lookup but stay on record.
	SupersededAt *time.Time `json:"superseded_at"`

	ResendCount int `gorm:"not null;default:0" json:"resend_count"`
}

// Live reports whether the token is still consumable at the given instant.
func (t *VerificationToken) Live(now time.Time) bool {
	return t.ConsumedAt == nil && t.SupersededAt == nil && now.Before(t.ExpiresAt)
}
