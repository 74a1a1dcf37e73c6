package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/danproc/qrverify/internal/auth"
	"github.com/danproc/qrverify/internal/security"
	"github.com/danproc/qrverify/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newJWTService(t *testing.T) *iauth.JWTService {
	t.Helper()

	svc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret: "0123456789abcdef0123456789abcdef",
		Issuer: "qrverify-test",
	})
	require.NoError(t, err)
	return svc
}

func okHandler(c *gin.Context) {
	userID, _ := UserID(c)
	response.Success(c, http.StatusOK, gin.H{"user_id": userID})
}

func perform(router *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestAuthAcceptsValidBearerToken(t *testing.T) {
	jwt := newJWTService(t)
	token, err := jwt.GenerateSessionToken("user-1")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/me", Auth(jwt), okHandler)

	rec := perform(router, http.MethodGet, "/me", map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "user-1")
}

func TestAuthRejectsMissingAndMalformedTokens(t *testing.T) {
	jwt := newJWTService(t)

	router := gin.New()
	router.GET("/me", Auth(jwt), okHandler)

	for _, header := range []string{"", "Bearer", "Bearer not-a-jwt", "Basic abc"} {
		headers := map[string]string{}
		if header != "" {
			headers["Authorization"] = header
		}
		rec := perform(router, http.MethodGet, "/me", headers)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestAuthRejectsTokenFromDifferentSecret(t *testing.T) {
	other, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret: "ffffffffffffffffffffffffffffffff",
		Issuer: "qrverify-test",
	})
	require.NoError(t, err)
	token, err := other.GenerateSessionToken("user-1")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/me", Auth(newJWTService(t)), okHandler)

	rec := perform(router, http.MethodGet, "/me", map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCSRFAcceptsTokenBoundToSessionAndAction(t *testing.T) {
	jwt := newJWTService(t)
	session, err := jwt.GenerateSessionToken("user-1")
	require.NoError(t, err)

	verifier, err := security.NewHMACVerifier([]byte("an-hmac-key-of-at-least-32-bytes!"))
	require.NoError(t, err)
	csrf, err := verifier.Issue("user-1", "codes.create")
	require.NoError(t, err)

	router := gin.New()
	router.POST("/codes", Auth(jwt), CSRF(verifier, "codes.create"), okHandler)

	rec := perform(router, http.MethodPost, "/codes", map[string]string{
		"Authorization": "Bearer " + session,
		CSRFHeaderName:  csrf,
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCSRFRejectsWrongActionWrongUserAndExpired(t *testing.T) {
	jwt := newJWTService(t)
	session, err := jwt.GenerateSessionToken("user-1")
	require.NoError(t, err)

	verifier, err := security.NewHMACVerifier([]byte("an-hmac-key-of-at-least-32-bytes!"))
	require.NoError(t, err)

	wrongAction, err := verifier.Issue("user-1", "terms.accept")
	require.NoError(t, err)
	wrongUser, err := verifier.Issue("user-2", "codes.create")
	require.NoError(t, err)

	frozen := time.Now().Add(-3 * time.Hour)
	stale, err := security.NewHMACVerifier(
		[]byte("an-hmac-key-of-at-least-32-bytes!"),
		security.WithCSRFClock(func() time.Time { return frozen }),
	)
	require.NoError(t, err)
	expired, err := stale.Issue("user-1", "codes.create")
	require.NoError(t, err)

	router := gin.New()
	router.POST("/codes", Auth(jwt), CSRF(verifier, "codes.create"), okHandler)

	for name, token := range map[string]string{
		"wrong action": wrongAction,
		"wrong user":   wrongUser,
		"expired":      expired,
		"missing":      "",
		"garbage":      "not.a.token",
	} {
		rec := perform(router, http.MethodPost, "/codes", map[string]string{
			"Authorization": "Bearer " + session,
			CSRFHeaderName:  token,
		})
		require.Equal(t, http.StatusForbidden, rec.Code, name)
		require.Equal(t, "CSRF_TOKEN_INVALID", errorCode(t, rec), name)
	}
}

func TestRateLimiterBlocksAfterLimitAndResets(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	current := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return current }

	router := gin.New()
	router.POST("/verify", rl.Middleware(), func(c *gin.Context) {
		response.Success(c, http.StatusOK, nil)
	})

	require.Equal(t, http.StatusOK, perform(router, http.MethodPost, "/verify", nil).Code)
	require.Equal(t, http.StatusOK, perform(router, http.MethodPost, "/verify", nil).Code)
	require.Equal(t, http.StatusTooManyRequests, perform(router, http.MethodPost, "/verify", nil).Code)

	current = current.Add(2 * time.Minute)
	require.Equal(t, http.StatusOK, perform(router, http.MethodPost, "/verify", nil).Code)
}

func TestRateLimiterPruneDropsExpiredBuckets(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	current := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return current }

	require.True(t, rl.allow("a|/x"))
	require.True(t, rl.allow("b|/x"))
	require.Len(t, rl.buckets, 2)

	current = current.Add(2 * time.Minute)
	rl.Prune()
	require.Empty(t, rl.buckets)
}

func TestSecurityHeadersSetOnResponse(t *testing.T) {
	router := gin.New()
	router.GET("/", SecurityHeaders(), func(c *gin.Context) {
		response.Success(c, http.StatusOK, nil)
	})

	rec := perform(router, http.MethodGet, "/", nil)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	router := gin.New()
	router.GET("/boom", Recovery(), func(c *gin.Context) {
		panic("unexpected")
	})

	rec := perform(router, http.MethodGet, "/boom", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "INTERNAL_SERVER_ERROR", errorCode(t, rec))
}
