package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/danproc/qrverify/internal/middleware"
	"github.com/danproc/qrverify/internal/services"
	apperrors "github.com/danproc/qrverify/pkg/errors"
	"github.com/danproc/qrverify/pkg/response"
)

const defaultCodeSize = 256

// CodesHandler is the metered action: every generated code consumes quota.
// Admission happens before any image is rendered, and a batch is admitted
// in full or not at all.
type CodesHandler struct {
	usage *services.UsageService
}

// NewCodesHandler constructs a CodesHandler instance.
func NewCodesHandler(usage *services.UsageService) (*CodesHandler, error) {
	if usage == nil {
		return nil, errors.New("handlers: usage service is required")
	}
	return &CodesHandler{usage: usage}, nil
}

type codeItem struct {
	Content string `json:"content" validate:"required,max=2048"`
	Size    int    `json:"size" validate:"omitempty,min=64,max=1024"`
}

type generateCodesRequest struct {
	Items []codeItem `json:"items" validate:"required,min=1,max=50,dive"`
}

type generatedCode struct {
	Content string `json:"content"`
	Size    int    `json:"size"`
	PNG     string `json:"png_base64"`
}

// Generate renders QR codes for each item in the batch.
func (h *CodesHandler) Generate(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var req generateCodesRequest
	if !bindAndValidate(c, &req) {
		return
	}

	newCount, err := h.usage.Increment(requestContext(c), userID, int64(len(req.Items)))
	if err != nil {
		response.Error(c, err)
		return
	}

	codes := make([]generatedCode, 0, len(req.Items))
	for _, item := range req.Items {
		size := item.Size
		if size == 0 {
			size = defaultCodeSize
		}

		png, err := qrcode.Encode(item.Content, qrcode.Medium, size)
		if err != nil {
			// Quota was already charged for the batch; surface the bad
			// content rather than silently skipping it.
			response.Error(c, apperrors.NewBadRequest("content cannot be encoded as a QR code"))
			return
		}

		codes = append(codes, generatedCode{
			Content: item.Content,
			Size:    size,
			PNG:     base64.StdEncoding.EncodeToString(png),
		})
	}

	response.Success(c, http.StatusCreated, gin.H{
		"codes":        codes,
		"period_usage": newCount,
	})
}
