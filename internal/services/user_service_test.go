package services

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danproc/qrverify/internal/models"
	apperrors "github.com/danproc/qrverify/pkg/errors"
)

func TestRegisterAndGet(t *testing.T) {
	db := openTestDB(t)
	seedPlan(t, db, "free", 50)

	svc, err := NewUserService(db)
	require.NoError(t, err)

	user, err := svc.Register(ctxb(), "New@Example.COM", "")
	require.NoError(t, err)
	require.Equal(t, "new@example.com", user.Email)
	require.Equal(t, "free", user.PlanID)
	require.Equal(t, models.StatusUnverified, user.Status)

	loaded, err := svc.Get(ctxb(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.Plan)
	require.Equal(t, int64(50), loaded.Plan.MonthlyQuota)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	db := openTestDB(t)
	seedPlan(t, db, "free", 50)

	svc, err := NewUserService(db)
	require.NoError(t, err)

	_, err = svc.Register(ctxb(), "dup@example.com", "free")
	require.NoError(t, err)

	_, err = svc.Register(ctxb(), "dup@example.com", "free")
	require.ErrorIs(t, err, apperrors.ErrEmailTaken)
}

func TestGetUnknownUser(t *testing.T) {
	db := openTestDB(t)
	svc, err := NewUserService(db)
	require.NoError(t, err)

	_, err = svc.Get(ctxb(), "ghost")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRequestEmailChange(t *testing.T) {
	db := openTestDB(t)
	seedPlan(t, db, "free", 50)

	svc, err := NewUserService(db)
	require.NoError(t, err)

	user, err := svc.Register(ctxb(), "owner@example.com", "free")
	require.NoError(t, err)
	other, err := svc.Register(ctxb(), "other@example.com", "free")
	require.NoError(t, err)

	require.NoError(t, svc.RequestEmailChange(ctxb(), user.ID, "fresh@example.com"))

	loaded, err := svc.Get(ctxb(), user.ID)
	require.NoError(t, err)
	require.Equal(t, "fresh@example.com", loaded.PendingEmail)
	require.Equal(t, "owner@example.com", loaded.Email)

	// A target already owned by another account is rejected up front.
	require.ErrorIs(t, svc.RequestEmailChange(ctxb(), user.ID, other.Email), apperrors.ErrEmailTaken)

	// Re-requesting your own current address is allowed (no-op flow).
	require.NoError(t, svc.RequestEmailChange(ctxb(), user.ID, user.Email))
}

func TestSetStatus(t *testing.T) {
	db := openTestDB(t)
	seedPlan(t, db, "free", 50)

	svc, err := NewUserService(db)
	require.NoError(t, err)

	user, err := svc.Register(ctxb(), "status@example.com", "free")
	require.NoError(t, err)

	require.NoError(t, svc.SetStatus(ctxb(), user.ID, models.StatusActive))

	loaded, err := svc.Get(ctxb(), user.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, loaded.Status)

	require.Error(t, svc.SetStatus(ctxb(), user.ID, models.UserStatus("banned")))
	require.ErrorIs(t, svc.SetStatus(ctxb(), "ghost", models.StatusActive), apperrors.ErrNotFound)
}
