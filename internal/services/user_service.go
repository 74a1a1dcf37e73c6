package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/danproc/qrverify/internal/models"
	apperrors "github.com/danproc/qrverify/pkg/errors"
)

// UserService is the thin adapter over the identity store. The gating core
// reads accounts through it and writes back exactly two things: derived
// status and the email fields touched by the verification flows.
type UserService struct {
	db *gorm.DB
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db}, nil
}

// Get loads a user by id.
func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var user models.User
	if err := s.db.WithContext(ctx).Preload("Plan").First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("user service: get: %w", err)
	}
	return &user, nil
}

// Register provisions a new unverified account on the given plan. Duplicate
// addresses map to ErrEmailTaken.
func (s *UserService) Register(ctx context.Context, email, planID string) (*models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}
	if planID = strings.TrimSpace(planID); planID == "" {
		planID = "free"
	}

	user := &models.User{
		Email:  email,
		Status: models.StatusUnverified,
		PlanID: planID,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrEmailTaken
		}
		return nil, fmt.Errorf("user service: register: %w", err)
	}
	return user, nil
}

// RequestEmailChange stages a new address on the account. The swap itself
// only happens when the matching email_change token is consumed.
func (s *UserService) RequestEmailChange(ctx context.Context, userID, newEmail string) error {
	userID = strings.TrimSpace(userID)
	newEmail = strings.TrimSpace(strings.ToLower(newEmail))
	if userID == "" {
		return apperrors.NewBadRequest("user id is required")
	}
	if newEmail == "" {
		return apperrors.NewBadRequest("email is required")
	}

	var clash int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ? AND id <> ?", newEmail, userID).
		Count(&clash).Error; err != nil {
		return fmt.Errorf("user service: email availability: %w", err)
	}
	if clash > 0 {
		return apperrors.ErrEmailTaken
	}

	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("pending_email", newEmail)
	if res.Error != nil {
		return fmt.Errorf("user service: stage email change: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// SetStatus persists a derived status. Callers other than the gate evaluator
// have no business invoking this.
func (s *UserService) SetStatus(ctx context.Context, userID string, status models.UserStatus) error {
	if !status.Valid() {
		return apperrors.NewBadRequest("unknown user status")
	}

	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", strings.TrimSpace(userID)).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("user service: set status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
