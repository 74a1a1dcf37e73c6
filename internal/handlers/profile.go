package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/danproc/qrverify/internal/gate"
	"github.com/danproc/qrverify/internal/middleware"
	"github.com/danproc/qrverify/internal/services"
	apperrors "github.com/danproc/qrverify/pkg/errors"
	"github.com/danproc/qrverify/pkg/response"
)

// ProfileHandler returns the caller's account alongside the live gate
// decision, the single payload a client needs to route its UI.
type ProfileHandler struct {
	users     *services.UserService
	usage     *services.UsageService
	evaluator *gate.Evaluator
}

// NewProfileHandler constructs a ProfileHandler instance.
func NewProfileHandler(users *services.UserService, usage *services.UsageService, evaluator *gate.Evaluator) (*ProfileHandler, error) {
	if users == nil || usage == nil || evaluator == nil {
		return nil, errors.New("handlers: profile dependencies are required")
	}
	return &ProfileHandler{users: users, usage: usage, evaluator: evaluator}, nil
}

// Me returns the account, its gate decision, and the period usage summary.
func (h *ProfileHandler) Me(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	ctx := requestContext(c)
	user, err := h.users.Get(ctx, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	decision, err := h.evaluator.Evaluate(ctx, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	summary, err := h.usage.Summary(ctx, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user":     user,
		"decision": decision,
		"usage":    summary,
	})
}
