package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestVerifier(t *testing.T, clock func() time.Time) *HMACVerifier {
	t.Helper()
	v, err := NewHMACVerifier(testKey, WithCSRFClock(clock), WithCSRFTTL(time.Hour))
	require.NoError(t, err)
	return v
}

func TestVerifierRejectsShortKey(t *testing.T) {
	_, err := NewHMACVerifier([]byte("short"))
	require.Error(t, err)
}

func TestIssueAndVerify(t *testing.T) {
	current := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	v := newTestVerifier(t, func() time.Time { return current })

	token, err := v.Issue("session-1", "accept-terms")
	require.NoError(t, err)

	require.NoError(t, v.Verify("session-1", "accept-terms", token))

	// Multiple submissions within the window are allowed.
	require.NoError(t, v.Verify("session-1", "accept-terms", token))
}

func TestVerifyRejectsWrongBinding(t *testing.T) {
	current := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	v := newTestVerifier(t, func() time.Time { return current })

	token, err := v.Issue("session-1", "accept-terms")
	require.NoError(t, err)

	require.ErrorIs(t, v.Verify("session-2", "accept-terms", token), ErrCSRFMismatch)
	require.ErrorIs(t, v.Verify("session-1", "resend-verification", token), ErrCSRFMismatch)
}

func TestVerifyRejectsExpired(t *testing.T) {
	current := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	v := newTestVerifier(t, func() time.Time { return current })

	token, err := v.Issue("session-1", "accept-terms")
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)
	require.ErrorIs(t, v.Verify("session-1", "accept-terms", token), ErrCSRFExpired)
}

func TestVerifyRejectsMalformedTokens(t *testing.T) {
	v := newTestVerifier(t, time.Now)

	for _, tok := range []string{"", "no-dot", ".sig", "123.", "abc.def", "99999999999999999999.sig"} {
		require.ErrorIs(t, v.Verify("session-1", "accept-terms", tok), ErrCSRFMismatch, tok)
	}
}

func TestTamperedDeadlineFailsSignature(t *testing.T) {
	current := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	v := newTestVerifier(t, func() time.Time { return current })

	token, err := v.Issue("session-1", "accept-terms")
	require.NoError(t, err)

	// Pushing the deadline out without re-signing must fail as a mismatch,
	// not as expired.
	dot := len(token)
	for i, r := range token {
		if r == '.' {
			dot = i
			break
		}
	}
	forged := "9999999999" + token[dot:]
	require.ErrorIs(t, v.Verify("session-1", "accept-terms", forged), ErrCSRFMismatch)
}
