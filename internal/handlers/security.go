package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/danproc/qrverify/internal/middleware"
	"github.com/danproc/qrverify/internal/security"
	apperrors "github.com/danproc/qrverify/pkg/errors"
	"github.com/danproc/qrverify/pkg/response"
)

// Actions that anti-forgery tokens may be bound to. Tokens for one action
// are useless for another.
var csrfActions = map[string]bool{
	"codes.create":  true,
	"terms.accept":  true,
	"email.change":  true,
	"verify.resend": true,
}

// SecurityHandler issues per-action anti-forgery tokens to authenticated
// sessions.
type SecurityHandler struct {
	verifier security.CSRFVerifier
}

// NewSecurityHandler constructs a SecurityHandler instance.
func NewSecurityHandler(verifier security.CSRFVerifier) (*SecurityHandler, error) {
	if verifier == nil {
		return nil, errors.New("handlers: csrf verifier is required")
	}
	return &SecurityHandler{verifier: verifier}, nil
}

// CSRFToken returns a signed token bound to the session and the requested
// action.
func (h *SecurityHandler) CSRFToken(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	action := strings.TrimSpace(c.Query("action"))
	if !csrfActions[action] {
		response.Error(c, apperrors.NewBadRequest("unknown action"))
		return
	}

	token, err := h.verifier.Issue(userID, action)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"action": action,
		"token":  token,
	})
}
