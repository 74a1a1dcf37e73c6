package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
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

	pool, err := db.DB()
	require.NoError(t, err)
	pool.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.VerificationToken{}))
	return db
}

func seedToken(t *testing.T, db *gorm.DB, hash string, issued, expires time.Time, consumed, superseded *time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.VerificationToken{
		UserID:       "user-1",
		Email:        "user@example.com",
		Kind:         models.KindSignup,
		TokenHash:    hash,
		IssuedAt:     issued,
		ExpiresAt:    expires,
		ConsumedAt:   consumed,
		SupersededAt: superseded,
	}).Error)
}

func TestCleanupTokensRemovesDeadRowsPastRetention(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2024, 6, 10, 3, 0, 0, 0, time.UTC)
	cutoff := now.Add(-90 * 24 * time.Hour)

	old := cutoff.Add(-time.Hour)
	consumedAt := old.Add(time.Minute)

	// Dead and past retention: removed.
	seedToken(t, db, "old-consumed", old, old.Add(24*time.Hour), &consumedAt, nil)
	seedToken(t, db, "old-superseded", old, old.Add(24*time.Hour), nil, &consumedAt)
	seedToken(t, db, "old-expired", old, old.Add(30*time.Minute), nil, nil)

	// Dead but recent: kept for audit.
	recent := now.Add(-time.Hour)
	recentConsumed := recent.Add(time.Minute)
	seedToken(t, db, "recent-consumed", recent, recent.Add(24*time.Hour), &recentConsumed, nil)

	// Live: never touched.
	seedToken(t, db, "live", recent, now.Add(23*time.Hour), nil, nil)

	removed, err := CleanupTokens(context.Background(), db, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(3), removed)

	var hashes []string
	require.NoError(t, db.Model(&models.VerificationToken{}).Pluck("token_hash", &hashes).Error)
	require.ElementsMatch(t, []string{"recent-consumed", "live"}, hashes)
}

func TestCleanupTokensRequiresDB(t *testing.T) {
	_, err := CleanupTokens(context.Background(), nil, time.Now())
	require.Error(t, err)
}

func TestCleanerRunOnceAppliesRetention(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2024, 6, 10, 3, 0, 0, 0, time.UTC)

	old := now.Add(-10 * 24 * time.Hour)
	consumedAt := old.Add(time.Minute)
	seedToken(t, db, "old-consumed", old, old.Add(24*time.Hour), &consumedAt, nil)

	cleaner := NewCleaner(db,
		WithNow(func() time.Time { return now }),
		WithTokenRetention(7*24*time.Hour),
	)
	require.NoError(t, cleaner.RunOnce(context.Background()))

	var count int64
	require.NoError(t, db.Model(&models.VerificationToken{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCleanerStartRegistersJobs(t *testing.T) {
	db := openTestDB(t)
	scheduler := cron.New()

	cleaner := NewCleaner(db, WithCron(scheduler), WithTokenSchedule("@every 1h"))
	require.NoError(t, cleaner.Start())
	require.Len(t, scheduler.Entries(), 1)

	<-cleaner.Stop().Done()
}
