package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/danproc/qrverify/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// A single pooled connection keeps every session on the same in-memory
	// database and serialises writers.
	pool, err := db.DB()
	require.NoError(t, err)
	pool.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Plan{},
		&models.User{},
		&models.VerificationToken{},
		&models.AcceptanceRecord{},
		&models.UsageCounter{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func seedPlan(t *testing.T, db *gorm.DB, id string, quota int64) {
	t.Helper()
	require.NoError(t, db.Create(&models.Plan{ID: id, Name: id, MonthlyQuota: quota}).Error)
}

func seedUser(t *testing.T, db *gorm.DB, email, planID string) *models.User {
	t.Helper()
	user := &models.User{Email: email, PlanID: planID, Status: models.StatusUnverified}
	require.NoError(t, db.Create(user).Error)
	return user
}

func markVerified(t *testing.T, db *gorm.DB, userID string, at time.Time) {
	t.Helper()
	require.NoError(t, db.Model(&models.User{}).
		Where("id = ?", userID).
		Update("email_verified_at", at).Error)
}

func ctxb() context.Context { return context.Background() }
