package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/danproc/qrverify/internal/security"
	apperrors "github.com/danproc/qrverify/pkg/errors"
	"github.com/danproc/qrverify/pkg/logger"
	"github.com/danproc/qrverify/pkg/response"
)

// CSRFHeaderName is the header clients must present on mutating requests.
const CSRFHeaderName = "X-CSRF-Token"

// CSRF validates a signed, time-bound anti-forgery token bound to the
// authenticated session and the named action. Must run after Auth. The check
// happens before any gate or handler logic.
func CSRF(verifier security.CSRFVerifier, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(c.GetHeader(CSRFHeaderName))
		if err := verifier.Verify(userID, action, token); err != nil {
			logger.WithModule("csrf").Warn("csrf validation failed",
				// Token contents are never logged
				zap.String("action", action),
				zap.String("path", c.FullPath()),
				zap.Bool("expired", errors.Is(err, security.ErrCSRFExpired)),
			)
			response.Error(c, apperrors.ErrCSRFInvalid)
			c.Abort()
			return
		}

		c.Next()
	}
}
