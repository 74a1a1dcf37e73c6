package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/danproc/qrverify/internal/models"
	apperrors "github.com/danproc/qrverify/pkg/errors"
)

func newUsageService(t *testing.T, db *gorm.DB, clock *time.Time) *UsageService {
	t.Helper()
	svc, err := NewUsageService(db, WithUsageClock(func() time.Time { return *clock }))
	require.NoError(t, err)
	return svc
}

func TestIncrementAndCurrentUsage(t *testing.T) {
	db := openTestDB(t)
	seedPlan(t, db, "free", 50)
	user := seedUser(t, db, "meter@example.com", "free")

	current := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	svc := newUsageService(t, db, &current)

	used, err := svc.CurrentUsage(ctxb(), user.ID)
	require.NoError(t, err)
	require.Zero(t, used)

	n, err := svc.Increment(ctxb(), user.ID, 3)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	n, err = svc.Increment(ctxb(), user.ID, 2)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)

	used, err = svc.CurrentUsage(ctxb(), user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(5), used)
}

func TestIncrementStopsExactlyAtQuota(t *testing.T) {
	db := openTestDB(t)
	seedPlan(t, db, "small", 5)
	user := seedUser(t, db, "cap@example.com", "small")

	current := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	svc := newUsageService(t, db, &current)

	admitted := 0
	for i := 0; i < 8; i++ {
		if _, err := svc.Increment(ctxb(), user.ID, 1); err == nil {
			admitted++
		} else {
			require.ErrorIs(t, err, apperrors.ErrQuotaExceeded)
		}
	}
	require.Equal(t, 5, admitted)

	used, err := svc.CurrentUsage(ctxb(), user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(5), used)
}

func TestBatchRejectedInFull(t *testing.T) {
	db := openTestDB(t)
	seedPlan(t, db, "small", 5)
	user := seedUser(t, db, "batch@example.com", "small")

	current := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	svc := newUsageService(t, db, &current)

	_, err := svc.Increment(ctxb(), user.ID, 4)
	require.NoError(t, err)

	// 4+3 > 5: the batch must be rejected whole, not clamped to 1.
	_, err = svc.Increment(ctxb(), user.ID, 3)
	require.ErrorIs(t, err, apperrors.ErrQuotaExceeded)

	used, err := svc.CurrentUsage(ctxb(), user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(4), used)

	// A batch that still fits is admitted.
	n, err := svc.Increment(ctxb(), user.ID, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)
}

func TestConcurrentIncrementsNeverExceedQuota(t *testing.T) {
	db := openTestDB(t)
	seedPlan(t, db, "small", 5)
	user := seedUser(t, db, "race@example.com", "small")

	current := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	svc := newUsageService(t, db, &current)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Increment(ctxb(), user.ID, 1); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	used, err := svc.CurrentUsage(ctxb(), user.ID)
	require.NoError(t, err)
	require.LessOrEqual(t, used, int64(5))
	require.Equal(t, int64(admitted), used)
}

func TestUnlimitedPlanNeverRejects(t *testing.T) {
	db := openTestDB(t)
	seedPlan(t, db, "business", models.UnlimitedQuota)
	user := seedUser(t, db, "unlimited@example.com", "business")

	current := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	svc := newUsageService(t, db, &current)

	n, err := svc.Increment(ctxb(), user.ID, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), n)

	summary, err := svc.Summary(ctxb(), user.ID)
	require.NoError(t, err)
	require.True(t, summary.Unlimited)
	require.Equal(t, models.UnlimitedQuota, summary.Remaining)
	require.False(t, summary.NearLimit)
}

func TestPeriodRollover(t *testing.T) {
	db := openTestDB(t)
	seedPlan(t, db, "small", 5)
	user := seedUser(t, db, "rollover@example.com", "small")

	current := time.Date(2024, 6, 30, 23, 0, 0, 0, time.UTC)
	svc := newUsageService(t, db, &current)

	_, err := svc.Increment(ctxb(), user.ID, 5)
	require.NoError(t, err)

	_, err = svc.Increment(ctxb(), user.ID, 1)
	require.ErrorIs(t, err, apperrors.ErrQuotaExceeded)

	// New month, fresh period key, counter logically resets.
	current = time.Date(2024, 7, 1, 0, 5, 0, 0, time.UTC)

	used, err := svc.CurrentUsage(ctxb(), user.ID)
	require.NoError(t, err)
	require.Zero(t, used)

	n, err := svc.Increment(ctxb(), user.ID, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	// The June row is untouched history.
	var june models.UsageCounter
	require.NoError(t, db.Where("user_id = ? AND period_key = ?", user.ID, "2024-06").First(&june).Error)
	require.Equal(t, int64(5), june.Count)
}

func TestSummaryWarnsPastThreshold(t *testing.T) {
	db := openTestDB(t)
	seedPlan(t, db, "ten", 10)
	user := seedUser(t, db, "warn@example.com", "ten")

	current := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	svc := newUsageService(t, db, &current)

	_, err := svc.Increment(ctxb(), user.ID, 8)
	require.NoError(t, err)

	summary, err := svc.Summary(ctxb(), user.ID)
	require.NoError(t, err)
	require.False(t, summary.NearLimit, "exactly 80%% is not yet past the threshold")
	require.Equal(t, int64(2), summary.Remaining)

	_, err = svc.Increment(ctxb(), user.ID, 1)
	require.NoError(t, err)

	summary, err = svc.Summary(ctxb(), user.ID)
	require.NoError(t, err)
	require.True(t, summary.NearLimit)
}

func TestCorrectDecrementsWithFloor(t *testing.T) {
	db := openTestDB(t)
	seedPlan(t, db, "small", 5)
	user := seedUser(t, db, "correct@example.com", "small")

	current := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	svc := newUsageService(t, db, &current)

	_, err := svc.Increment(ctxb(), user.ID, 4)
	require.NoError(t, err)

	require.NoError(t, svc.Correct(ctxb(), user.ID, -2))

	used, err := svc.CurrentUsage(ctxb(), user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), used)

	// Corrections may not drive the count negative.
	require.Error(t, svc.Correct(ctxb(), user.ID, -3))
}

func TestIncrementValidatesInput(t *testing.T) {
	db := openTestDB(t)
	seedPlan(t, db, "free", 50)
	user := seedUser(t, db, "valid@example.com", "free")

	current := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	svc := newUsageService(t, db, &current)

	_, err := svc.Increment(ctxb(), "", 1)
	require.Error(t, err)

	_, err = svc.Increment(ctxb(), user.ID, 0)
	require.Error(t, err)

	_, err = svc.Increment(ctxb(), user.ID, -5)
	require.Error(t, err)

	_, err = svc.Increment(ctxb(), "ghost", 1)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}
