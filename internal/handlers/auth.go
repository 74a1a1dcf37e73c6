package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/danproc/qrverify/internal/auth"
	"github.com/danproc/qrverify/internal/gate"
	"github.com/danproc/qrverify/internal/models"
	"github.com/danproc/qrverify/internal/services"
	apperrors "github.com/danproc/qrverify/pkg/errors"
	"github.com/danproc/qrverify/pkg/response"
)

// AuthHandler covers account creation and the token-consumption step that
// turns a verified email into an authenticated session.
type AuthHandler struct {
	users        *services.UserService
	verification *services.VerificationService
	evaluator    *gate.Evaluator
	jwt          *iauth.JWTService
}

// NewAuthHandler constructs an AuthHandler instance.
func NewAuthHandler(users *services.UserService, verification *services.VerificationService, evaluator *gate.Evaluator, jwt *iauth.JWTService) (*AuthHandler, error) {
	if users == nil || verification == nil || evaluator == nil || jwt == nil {
		return nil, errors.New("handlers: auth dependencies are required")
	}
	return &AuthHandler{users: users, verification: verification, evaluator: evaluator, jwt: jwt}, nil
}

type registerRequest struct {
	Email  string `json:"email" validate:"required,email"`
	PlanID string `json:"plan_id" validate:"omitempty,max=64"`
}

// Register creates an unverified account and sends the signup token. The
// account stays gated until the token is consumed.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	user, err := h.users.Register(ctx, req.Email, req.PlanID)
	if err != nil {
		response.Error(c, err)
		return
	}

	if _, err := h.verification.Issue(ctx, user.ID, user.Email, models.KindSignup); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"user_id": user.ID,
		"email":   user.Email,
		"status":  user.Status,
	})
}

type verifyEmailRequest struct {
	Token string `json:"token" validate:"required,min=16"`
}

// VerifyEmail consumes a verification token. On success the derived account
// status is refreshed and a session token is issued for the proven owner.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req verifyEmailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	result, err := h.verification.Consume(ctx, req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}

	decision, err := h.evaluator.RefreshStatus(ctx, result.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	session, err := h.jwt.GenerateSessionToken(result.UserID)
	if err != nil {
		response.Error(c, apperrors.Wrap(err, "failed to establish session"))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user_id":       result.UserID,
		"email":         result.Email,
		"kind":          result.Kind,
		"session_token": session,
		"decision":      decision,
	})
}
