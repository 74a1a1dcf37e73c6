package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/danproc/qrverify/internal/models"
	"github.com/danproc/qrverify/pkg/crypto"
	apperrors "github.com/danproc/qrverify/pkg/errors"
	"github.com/danproc/qrverify/pkg/mail"
	"github.com/danproc/qrverify/pkg/metrics"
)

const (
	defaultTokenTTL       = 24 * time.Hour
	defaultResendCooldown = 90 * time.Second
	defaultTokenBytes     = 48
)

// VerificationOption customises the VerificationService.
type VerificationOption func(*VerificationService)

// WithTokenTTL overrides the token lifetime.
func WithTokenTTL(d time.Duration) VerificationOption {
	return func(s *VerificationService) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithResendCooldown overrides the minimum interval between issues for the
// same (user, kind) pair.
func WithResendCooldown(d time.Duration) VerificationOption {
	return func(s *VerificationService) {
		if d >= 0 {
			s.cooldown = d
		}
	}
}

// WithTokenBytes adjusts the number of random bytes in generated tokens.
func WithTokenBytes(size int) VerificationOption {
	return func(s *VerificationService) {
		if size > 0 {
			s.tokenBytes = size
		}
	}
}

// WithVerificationClock injects a custom time source.
func WithVerificationClock(clock func() time.Time) VerificationOption {
	return func(s *VerificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithVerificationBaseURL sets the base URL used in verification links.
func WithVerificationBaseURL(url string) VerificationOption {
	return func(s *VerificationService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// IssuedToken is returned from Issue. Token carries the opaque value exactly
// once; only its hash is persisted.
type IssuedToken struct {
	Token     string
	Link      string
	ExpiresAt time.Time
}

// ConsumeResult identifies the account a consumed token belonged to.
type ConsumeResult struct {
	UserID string
	Email  string
	Kind   models.TokenKind
}

// TokenStatus is the derived read backing the "check your email" page.
type TokenStatus struct {
	HasPending  bool       `json:"has_pending"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	ResendCount int        `json:"resend_count"`
	CanResend   bool       `json:"can_resend"`
	RetryAfter  int        `json:"retry_after_seconds,omitempty"`
}

// VerificationService manages the email ownership token lifecycle: issue with
// supersession and resend throttling, exactly-once consume, derived status.
type VerificationService struct {
	db         *gorm.DB
	mailer     mail.Mailer
	baseURL    string
	ttl        time.Duration
	cooldown   time.Duration
	tokenBytes int
	now        func() time.Time
}

// NewVerificationService constructs a verification service with the provided dependencies.
func NewVerificationService(db *gorm.DB, mailer mail.Mailer, opts ...VerificationOption) (*VerificationService, error) {
	if db == nil {
		return nil, errors.New("verification service: db is required")
	}

	service := &VerificationService{
		db:         db,
		mailer:     mailer,
		ttl:        defaultTokenTTL,
		cooldown:   defaultResendCooldown,
		tokenBytes: defaultTokenBytes,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Issue creates a fresh token for the (user, kind) pair, superseding any
// prior unconsumed tokens of that kind, and dispatches the email when a
// mailer is configured. Returns ErrRateLimited while inside the resend
// cooldown window measured from the latest token's issue time.
func (s *VerificationService) Issue(ctx context.Context, userID, email string, kind models.TokenKind) (*IssuedToken, error) {
	userID = strings.TrimSpace(userID)
	email = strings.TrimSpace(strings.ToLower(email))
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}
	if !kind.Valid() {
		return nil, apperrors.NewBadRequest("unknown token kind")
	}

	token, err := crypto.GenerateToken(s.tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("verification service: generate token: %w", err)
	}

	now := s.now()
	record := models.VerificationToken{
		UserID:    userID,
		Email:     email,
		Kind:      kind,
		TokenHash: crypto.HashToken(token),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest models.VerificationToken
		findErr := tx.
			Where("user_id = ? AND kind = ?", userID, kind).
			Order("issued_at DESC").
			First(&latest).Error
		switch {
		case findErr == nil:
			if s.cooldown > 0 && now.Sub(latest.IssuedAt) < s.cooldown {
				return apperrors.ErrRateLimited
			}
			record.ResendCount = latest.ResendCount + 1
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			// First issue for this pair.
		default:
			return fmt.Errorf("load latest token: %w", findErr)
		}

		// Supersede everything still live: at most one consumable token
		// per (user, kind) at any instant.
		if err := tx.Model(&models.VerificationToken{}).
			Where("user_id = ? AND kind = ? AND consumed_at IS NULL AND superseded_at IS NULL", userID, kind).
			Update("superseded_at", now).Error; err != nil {
			return fmt.Errorf("supersede prior tokens: %w", err)
		}

		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("create token: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrRateLimited) {
			return nil, apperrors.ErrRateLimited
		}
		return nil, fmt.Errorf("verification service: issue: %w", err)
	}

	metrics.VerificationTokens.WithLabelValues(string(kind), "issued").Inc()

	link := s.verificationLink(token)
	if s.mailer != nil {
		message := mail.Message{
			To:      []string{email},
			Subject: s.subjectFor(kind),
			Body:    s.bodyFor(kind, link),
		}
		if mailErr := s.mailer.Send(ctx, message); mailErr != nil && !errors.Is(mailErr, mail.ErrSMTPDisabled) {
			return nil, fmt.Errorf("verification service: send email: %w", mailErr)
		}
	}

	return &IssuedToken{Token: token, Link: link, ExpiresAt: record.ExpiresAt}, nil
}

// Consume validates a token and marks it used, exactly once. The consumed
// mark is a single conditional update, so two racing requests with the same
// value cannot both succeed. For email_change tokens the address swap commits
// in the same transaction; if the target address was claimed meanwhile the
// token is left unconsumed and ErrEmailTaken is returned.
func (s *VerificationService) Consume(ctx context.Context, tokenValue string) (*ConsumeResult, error) {
	tokenValue = strings.TrimSpace(tokenValue)
	if tokenValue == "" {
		return nil, apperrors.ErrTokenNotFound
	}

	hash := crypto.HashToken(tokenValue)
	now := s.now()

	var result ConsumeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var token models.VerificationToken
		if err := tx.Where("token_hash = ?", hash).First(&token).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrTokenNotFound
			}
			return fmt.Errorf("find token: %w", err)
		}

		switch {
		case token.ConsumedAt != nil:
			return apperrors.ErrTokenConsumed
		case token.SupersededAt != nil:
			// Invalidated by a later issue; indistinguishable from absent.
			return apperrors.ErrTokenNotFound
		case now.After(token.ExpiresAt):
			metrics.VerificationTokens.WithLabelValues(string(token.Kind), "expired").Inc()
			return apperrors.ErrTokenExpired
		}

		if token.Kind == models.KindEmailChange {
			var clash int64
			if err := tx.Model(&models.User{}).
				Where("email = ? AND id <> ?", token.Email, token.UserID).
				Count(&clash).Error; err != nil {
				return fmt.Errorf("check email availability: %w", err)
			}
			if clash > 0 {
				return apperrors.ErrEmailTaken
			}
		}

		// The guard re-checks consumed_at so only one of two concurrent
		// transactions can claim the row.
		res := tx.Model(&models.VerificationToken{}).
			Where("id = ? AND consumed_at IS NULL", token.ID).
			Update("consumed_at", now)
		if res.Error != nil {
			return fmt.Errorf("mark consumed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrTokenConsumed
		}

		updates := map[string]any{"email_verified_at": now}
		if token.Kind == models.KindEmailChange {
			updates["email"] = token.Email
			updates["pending_email"] = ""
		}
		if err := tx.Model(&models.User{}).Where("id = ?", token.UserID).Updates(updates).Error; err != nil {
			// A racing registration can claim the address between the
			// availability check and the swap; the rollback leaves the
			// token unconsumed so the user can reissue after resolving.
			if token.Kind == models.KindEmailChange && isUniqueConstraintError(err) {
				return apperrors.ErrEmailTaken
			}
			return fmt.Errorf("apply user updates: %w", err)
		}

		result = ConsumeResult{UserID: token.UserID, Email: token.Email, Kind: token.Kind}
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, fmt.Errorf("verification service: consume: %w", err)
	}

	metrics.VerificationTokens.WithLabelValues(string(result.Kind), "consumed").Inc()
	return &result, nil
}

// Status reports the pending-token state for a user and kind, including
// whether a resend would currently be accepted.
func (s *VerificationService) Status(ctx context.Context, userID string, kind models.TokenKind) (*TokenStatus, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var latest models.VerificationToken
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND kind = ?", userID, kind).
		Order("issued_at DESC").
		First(&latest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &TokenStatus{CanResend: true}, nil
		}
		return nil, fmt.Errorf("verification service: status: %w", err)
	}

	now := s.now()
	status := &TokenStatus{
		HasPending:  latest.Live(now),
		ResendCount: latest.ResendCount,
	}
	if status.HasPending {
		sentAt := latest.IssuedAt
		expiresAt := latest.ExpiresAt
		status.SentAt = &sentAt
		status.ExpiresAt = &expiresAt
	}

	wait := s.cooldown - now.Sub(latest.IssuedAt)
	if wait > 0 {
		status.RetryAfter = int(wait.Seconds() + 0.5)
	} else {
		status.CanResend = true
	}

	return status, nil
}

func (s *VerificationService) verificationLink(token string) string {
	if s.baseURL == "" {
		return token
	}
	return fmt.Sprintf("%s/verify-email?token=%s", s.baseURL, token)
}

func (s *VerificationService) subjectFor(kind models.TokenKind) string {
	if kind == models.KindEmailChange {
		return "Confirm your new email address"
	}
	return "Confirm your QRVerify account"
}

func (s *VerificationService) bodyFor(kind models.TokenKind, link string) string {
	if kind == models.KindEmailChange {
		return fmt.Sprintf("Please confirm your new email address by visiting the link below:\n%s\n\nIf you did not request this change, you can ignore this message.\n", link)
	}
	return fmt.Sprintf("Welcome to QRVerify!\n\nPlease confirm your email address by visiting the link below:\n%s\n\nIf you did not create an account, you can ignore this message.\n", link)
}
