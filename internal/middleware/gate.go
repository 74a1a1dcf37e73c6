package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/danproc/qrverify/internal/gate"
	apperrors "github.com/danproc/qrverify/pkg/errors"
	"github.com/danproc/qrverify/pkg/response"
)

// RequireClearance blocks requests from users failing an account-wide gate.
// Routes that must stay reachable while blocked (resend, accept, logout,
// support) simply do not mount this middleware. Quota is not checked here:
// it gates only the generation action, inside its handler.
func RequireClearance(evaluator *gate.Evaluator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}

		decision, err := evaluator.Evaluate(c.Request.Context(), userID)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		if !decision.Allowed {
			response.Error(c, decision.Err())
			c.Abort()
			return
		}

		c.Next()
	}
}
