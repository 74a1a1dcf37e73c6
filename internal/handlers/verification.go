package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/danproc/qrverify/internal/middleware"
	"github.com/danproc/qrverify/internal/models"
	"github.com/danproc/qrverify/internal/services"
	apperrors "github.com/danproc/qrverify/pkg/errors"
	"github.com/danproc/qrverify/pkg/response"
)

// VerificationHandler exposes the authenticated verification endpoints:
// resend, pending-token status, and starting an email change.
type VerificationHandler struct {
	users        *services.UserService
	verification *services.VerificationService
}

// NewVerificationHandler constructs a VerificationHandler instance.
func NewVerificationHandler(users *services.UserService, verification *services.VerificationService) (*VerificationHandler, error) {
	if users == nil || verification == nil {
		return nil, errors.New("handlers: verification dependencies are required")
	}
	return &VerificationHandler{users: users, verification: verification}, nil
}

// pendingTarget resolves which address an authenticated user is currently
// proving ownership of, and under which token kind.
func (h *VerificationHandler) pendingTarget(c *gin.Context) (*models.User, string, models.TokenKind, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return nil, "", "", false
	}

	user, err := h.users.Get(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return nil, "", "", false
	}

	if user.EmailVerifiedAt == nil {
		return user, user.Email, models.KindSignup, true
	}
	if user.PendingEmail != "" {
		return user, user.PendingEmail, models.KindEmailChange, true
	}

	response.Error(c, apperrors.NewBadRequest("no verification is pending for this account"))
	return nil, "", "", false
}

// Resend issues a fresh token for the in-flight verification, superseding
// any live one. Throttled per user by the issue cooldown.
func (h *VerificationHandler) Resend(c *gin.Context) {
	user, target, kind, ok := h.pendingTarget(c)
	if !ok {
		return
	}

	issued, err := h.verification.Issue(requestContext(c), user.ID, target, kind)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"kind":       kind,
		"email":      target,
		"expires_at": issued.ExpiresAt,
	})
}

// Status reports the pending token state backing the "check your email" view.
func (h *VerificationHandler) Status(c *gin.Context) {
	user, _, kind, ok := h.pendingTarget(c)
	if !ok {
		return
	}

	status, err := h.verification.Status(requestContext(c), user.ID, kind)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

type changeEmailRequest struct {
	NewEmail string `json:"new_email" validate:"required,email"`
}

// ChangeEmail stages a new address and mails it an ownership token. The
// account keeps its current verified email until the token is consumed.
func (h *VerificationHandler) ChangeEmail(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var req changeEmailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	if err := h.users.RequestEmailChange(ctx, userID, req.NewEmail); err != nil {
		response.Error(c, err)
		return
	}

	user, err := h.users.Get(ctx, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	issued, err := h.verification.Issue(ctx, userID, user.PendingEmail, models.KindEmailChange)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{
		"pending_email": user.PendingEmail,
		"expires_at":    issued.ExpiresAt,
	})
}
