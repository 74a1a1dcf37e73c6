package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/danproc/qrverify/internal/models"
	apperrors "github.com/danproc/qrverify/pkg/errors"
	"github.com/danproc/qrverify/pkg/metrics"
)

// warnThreshold is the usage fraction above which a non-blocking warning is
// surfaced (remaining/quota < 0.2).
const warnThreshold = 0.8

// UsageOption customises the UsageService.
type UsageOption func(*UsageService)

// WithUsageClock injects a custom time source.
func WithUsageClock(clock func() time.Time) UsageOption {
	return func(s *UsageService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// UsageSummary is the dashboard read model. Remaining is floored at zero and
// display-only; admission always re-checks live counters.
type UsageSummary struct {
	PeriodKey string `json:"period_key"`
	Used      int64  `json:"used"`
	Quota     int64  `json:"quota"`
	Unlimited bool   `json:"unlimited"`
	Remaining int64  `json:"remaining"`
	NearLimit bool   `json:"near_limit"`
}

// UsageService tracks metered QR-code consumption per user per billing
// period. Increments are single conditional updates so concurrent admission
// can never push usage past quota or lose a count.
type UsageService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewUsageService constructs a UsageService instance.
func NewUsageService(db *gorm.DB, opts ...UsageOption) (*UsageService, error) {
	if db == nil {
		return nil, errors.New("usage service: db is required")
	}

	service := &UsageService{db: db, now: time.Now}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// CurrentUsage returns the count consumed in the current billing period.
// Period rollover is implicit: a new month simply reads a fresh key at zero.
func (s *UsageService) CurrentUsage(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, apperrors.NewBadRequest("user id is required")
	}

	var counter models.UsageCounter
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND period_key = ?", userID, models.PeriodKeyFor(s.now())).
		First(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("usage service: current usage: %w", err)
	}
	return counter.Count, nil
}

// Quota returns the user's plan quota, models.UnlimitedQuota meaning no cap.
func (s *UsageService) Quota(ctx context.Context, userID string) (int64, error) {
	plan, err := s.planFor(ctx, userID)
	if err != nil {
		return 0, err
	}
	return plan.MonthlyQuota, nil
}

// Increment admits amount units against the user's quota, atomically. The
// batch is admitted in full or rejected in full with ErrQuotaExceeded; a
// partially applied count is impossible because admission check and addition
// are one SQL statement.
func (s *UsageService) Increment(ctx context.Context, userID string, amount int64) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, apperrors.NewBadRequest("user id is required")
	}
	if amount <= 0 {
		return 0, apperrors.NewBadRequest("amount must be positive")
	}

	plan, err := s.planFor(ctx, userID)
	if err != nil {
		return 0, err
	}

	periodKey := models.PeriodKeyFor(s.now())
	var newCount int64

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Ensure the period row exists; concurrent creators collapse into
		// the unique (user, period) index.
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.UsageCounter{UserID: userID, PeriodKey: periodKey}).Error; err != nil {
			return fmt.Errorf("ensure counter row: %w", err)
		}

		query := tx.Model(&models.UsageCounter{}).
			Where("user_id = ? AND period_key = ?", userID, periodKey)
		if !plan.Unlimited() {
			// The quota check rides inside the UPDATE's WHERE clause, so
			// two racing increments re-check against the committed count.
			query = query.Where("count + ? <= ?", amount, plan.MonthlyQuota)
		}

		res := query.Update("count", gorm.Expr("count + ?", amount))
		if res.Error != nil {
			return fmt.Errorf("apply increment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrQuotaExceeded
		}

		var counter models.UsageCounter
		if err := tx.Where("user_id = ? AND period_key = ?", userID, periodKey).
			First(&counter).Error; err != nil {
			return fmt.Errorf("reload counter: %w", err)
		}
		newCount = counter.Count
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrQuotaExceeded) {
			metrics.QuotaAdmissions.WithLabelValues("rejected").Inc()
			return 0, apperrors.ErrQuotaExceeded
		}
		return 0, fmt.Errorf("usage service: increment: %w", err)
	}

	metrics.QuotaAdmissions.WithLabelValues("admitted").Inc()
	return newCount, nil
}

// Correct applies an administrative adjustment to the current period. The
// only sanctioned way a counter ever decreases.
func (s *UsageService) Correct(ctx context.Context, userID string, delta int64) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperrors.NewBadRequest("user id is required")
	}
	if delta == 0 {
		return nil
	}

	periodKey := models.PeriodKeyFor(s.now())
	res := s.db.WithContext(ctx).Model(&models.UsageCounter{}).
		Where("user_id = ? AND period_key = ? AND count + ? >= 0", userID, periodKey, delta).
		Update("count", gorm.Expr("count + ?", delta))
	if res.Error != nil {
		return fmt.Errorf("usage service: correct: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NewBadRequest("correction would produce a negative count")
	}
	return nil
}

// Summary assembles the display read model: usage, quota, floored remaining,
// and the 80% warning signal.
func (s *UsageService) Summary(ctx context.Context, userID string) (*UsageSummary, error) {
	plan, err := s.planFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	used, err := s.CurrentUsage(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &UsageSummary{
		PeriodKey: models.PeriodKeyFor(s.now()),
		Used:      used,
		Quota:     plan.MonthlyQuota,
		Unlimited: plan.Unlimited(),
	}

	if summary.Unlimited {
		summary.Remaining = models.UnlimitedQuota
		return summary, nil
	}

	summary.Remaining = plan.MonthlyQuota - used
	if summary.Remaining < 0 {
		summary.Remaining = 0
	}
	if plan.MonthlyQuota > 0 {
		summary.NearLimit = float64(used)/float64(plan.MonthlyQuota) > warnThreshold
	}

	return summary, nil
}

func (s *UsageService) planFor(ctx context.Context, userID string) (*models.Plan, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var user models.User
	if err := s.db.WithContext(ctx).Preload("Plan").First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("usage service: load user: %w", err)
	}
	if user.Plan == nil {
		return nil, fmt.Errorf("usage service: user %s has no plan %q", user.ID, user.PlanID)
	}
	return user.Plan, nil
}
