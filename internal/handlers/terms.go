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

// TermsHandler serves the current terms version and records acceptances.
type TermsHandler struct {
	acceptance *services.AcceptanceService
	evaluator  *gate.Evaluator
}

// NewTermsHandler constructs a TermsHandler instance.
func NewTermsHandler(acceptance *services.AcceptanceService, evaluator *gate.Evaluator) (*TermsHandler, error) {
	if acceptance == nil || evaluator == nil {
		return nil, errors.New("handlers: terms dependencies are required")
	}
	return &TermsHandler{acceptance: acceptance, evaluator: evaluator}, nil
}

// Current reports the active terms version and whether the caller has
// accepted it.
func (h *TermsHandler) Current(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	ctx := requestContext(c)
	compliant, err := h.acceptance.IsCompliant(ctx, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"current_version": h.acceptance.CurrentVersion(),
		"accepted":        compliant,
	})
}

// History returns the caller's acceptance ledger, newest first.
func (h *TermsHandler) History(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	records, err := h.acceptance.History(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"acceptances": records})
}

type acceptTermsRequest struct {
	Version  int  `json:"version" validate:"required,min=1"`
	Accepted bool `json:"accepted"`
}

// Accept records an acceptance of the stated version. The explicit consent
// flag is checked before anything touches the ledger; stale versions are
// rejected by the service.
func (h *TermsHandler) Accept(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var req acceptTermsRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if !req.Accepted {
		response.Error(c, apperrors.NewBadRequest("terms must be explicitly accepted"))
		return
	}

	ctx := requestContext(c)
	record, err := h.acceptance.RecordAcceptance(ctx, userID, req.Version, c.ClientIP())
	if err != nil {
		response.Error(c, err)
		return
	}

	decision, err := h.evaluator.RefreshStatus(ctx, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"accepted_version": record.Version,
		"accepted_at":      record.AcceptedAt,
		"decision":         decision,
	})
}
