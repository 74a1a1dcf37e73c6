package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/danproc/qrverify/internal/models"
	apperrors "github.com/danproc/qrverify/pkg/errors"
	"github.com/danproc/qrverify/pkg/metrics"
)

// VersionSource supplies the live required terms version. Usually backed by
// configuration; injected so tests can bump it mid-flight.
type VersionSource interface {
	CurrentVersion() int
}

// StaticVersion is a VersionSource pinned to a constant.
type StaticVersion int

// CurrentVersion returns the pinned version.
func (v StaticVersion) CurrentVersion() int { return int(v) }

// AcceptanceOption customises the AcceptanceService.
type AcceptanceOption func(*AcceptanceService)

// WithAcceptanceClock injects a custom time source.
func WithAcceptanceClock(clock func() time.Time) AcceptanceOption {
	return func(s *AcceptanceService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// AcceptanceService keeps the append-only ledger of terms acceptance events.
// Rows are evidence: never deduplicated, never mutated, never deleted.
type AcceptanceService struct {
	db       *gorm.DB
	versions VersionSource
	now      func() time.Time
}

// NewAcceptanceService constructs an AcceptanceService instance.
func NewAcceptanceService(db *gorm.DB, versions VersionSource, opts ...AcceptanceOption) (*AcceptanceService, error) {
	if db == nil {
		return nil, errors.New("acceptance service: db is required")
	}
	if versions == nil {
		return nil, errors.New("acceptance service: version source is required")
	}

	service := &AcceptanceService{db: db, versions: versions, now: time.Now}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// CurrentVersion returns the live required terms version.
func (s *AcceptanceService) CurrentVersion() int {
	return s.versions.CurrentVersion()
}

// IsCompliant reports whether the user's highest accepted version covers the
// current requirement. A version bump flips this to false immediately, with
// no new event needed.
func (s *AcceptanceService) IsCompliant(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, apperrors.NewBadRequest("user id is required")
	}

	var highest *int
	err := s.db.WithContext(ctx).Model(&models.AcceptanceRecord{}).
		Where("user_id = ?", userID).
		Select("MAX(version)").
		Scan(&highest).Error
	if err != nil {
		return false, fmt.Errorf("acceptance service: compliance check: %w", err)
	}
	if highest == nil {
		return false, nil
	}
	return *highest >= s.versions.CurrentVersion(), nil
}

// RecordAcceptance appends one acceptance event. A version older than the
// current requirement fails with ErrVersionStale: a stale form must not
// satisfy a newer document. Re-accepting the current version is permitted and
// produces a second row.
func (s *AcceptanceService) RecordAcceptance(ctx context.Context, userID string, version int, sourceIP string) (*models.AcceptanceRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}
	if version < 1 {
		return nil, apperrors.NewBadRequest("version must be >= 1")
	}

	if version < s.versions.CurrentVersion() {
		metrics.TermsAcceptances.WithLabelValues("stale").Inc()
		return nil, apperrors.ErrVersionStale
	}

	record := models.AcceptanceRecord{
		UserID:     userID,
		Version:    version,
		AcceptedAt: s.now(),
		SourceIP:   strings.TrimSpace(sourceIP),
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("acceptance service: record: %w", err)
	}

	metrics.TermsAcceptances.WithLabelValues("recorded").Inc()
	return &record, nil
}

// History returns the user's acceptance trail, newest first.
func (s *AcceptanceService) History(ctx context.Context, userID string) ([]models.AcceptanceRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var records []models.AcceptanceRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("accepted_at DESC, id DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("acceptance service: history: %w", err)
	}
	return records, nil
}
