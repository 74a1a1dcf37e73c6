package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/danproc/qrverify/pkg/errors"
	"github.com/danproc/qrverify/pkg/logger"
	"github.com/danproc/qrverify/pkg/response"
)

// Recovery converts panics into a generic 500 response.
func Recovery() gin.HandlerFunc {
	log := logger.WithModule("recovery")

	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				)
				response.Error(c, errors.ErrInternalServer)
				c.Abort()
			}
		}()

		c.Next()
	}
}
