package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/danproc/qrverify/internal/middleware"
	"github.com/danproc/qrverify/internal/services"
	apperrors "github.com/danproc/qrverify/pkg/errors"
	"github.com/danproc/qrverify/pkg/response"
)

// UsageHandler reports the caller's consumption for the current billing period.
type UsageHandler struct {
	usage *services.UsageService
}

// NewUsageHandler constructs a UsageHandler instance.
func NewUsageHandler(usage *services.UsageService) (*UsageHandler, error) {
	if usage == nil {
		return nil, errors.New("handlers: usage service is required")
	}
	return &UsageHandler{usage: usage}, nil
}

// Summary returns used, quota, remaining, and the near-limit flag.
func (h *UsageHandler) Summary(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	summary, err := h.usage.Summary(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, summary)
}
