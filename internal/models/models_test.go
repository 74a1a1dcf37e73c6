package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUserStatusValid(t *testing.T) {
	for _, s := range []UserStatus{StatusUnverified, StatusPendingTerms, StatusActive, StatusSuspended} {
		require.True(t, s.Valid(), string(s))
	}
	require.False(t, UserStatus("deleted").Valid())
	require.False(t, UserStatus("").Valid())
}

func TestTokenKindValid(t *testing.T) {
	require.True(t, KindSignup.Valid())
	require.True(t, KindEmailChange.Valid())
	require.False(t, TokenKind("password_reset").Valid())
}

func TestTokenLive(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tok := VerificationToken{
		IssuedAt:  now.Add(-time.Hour),
		ExpiresAt: now.Add(23 * time.Hour),
	}
	require.True(t, tok.Live(now))

	consumed := now
	tok.ConsumedAt = &consumed
	require.False(t, tok.Live(now))

	tok.ConsumedAt = nil
	tok.SupersededAt = &consumed
	require.False(t, tok.Live(now))

	tok.SupersededAt = nil
	require.False(t, tok.Live(tok.ExpiresAt.Add(time.Second)))
}

func TestPeriodKeyFor(t *testing.T) {
	require.Equal(t, "2024-06", PeriodKeyFor(time.Date(2024, 6, 30, 23, 59, 0, 0, time.UTC)))
	// Local-time instants normalise to UTC before keying.
	loc := time.FixedZone("UTC+10", 10*3600)
	require.Equal(t, "2024-06", PeriodKeyFor(time.Date(2024, 7, 1, 5, 0, 0, 0, loc)))
}

func TestPlanUnlimited(t *testing.T) {
	free := Plan{ID: "free", MonthlyQuota: 50}
	require.False(t, free.Unlimited())

	biz := Plan{ID: "business", MonthlyQuota: UnlimitedQuota}
	require.True(t, biz.Unlimited())
}
