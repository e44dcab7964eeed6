package handler

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-tuition-api/internal/dto"
	"github.com/noah-isme/sma-tuition-api/internal/models"
	"github.com/noah-isme/sma-tuition-api/internal/service"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
	"github.com/noah-isme/sma-tuition-api/pkg/response"
)

type receiptService interface {
	ReceiptLink(ctx context.Context, paymentID string, actor *models.JWTClaims) (*dto.ReceiptLinkResponse, error)
	ResolveDownload(token string) (*os.File, string, error)
	ExportHistory(ctx context.Context, planID string, format service.HistoryFormat, actor *models.JWTClaims) (*service.HistoryExport, error)
}

// ReceiptHandler serves receipt links, signed downloads and history exports.
type ReceiptHandler struct {
	service receiptService
}

// NewReceiptHandler builds a new handler.
func NewReceiptHandler(service receiptService) *ReceiptHandler {
	return &ReceiptHandler{service: service}
}

// Link godoc
// @Summary Signed download link for an approved payment's receipt
// @Tags Receipts
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Router /payments/{id}/receipt [get]
func (h *ReceiptHandler) Link(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "receipts are not enabled"))
		return
	}
	link, err := h.service.ReceiptLink(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Download godoc
// @Summary Download a receipt via signed token
// @Tags Receipts
// @Produce application/pdf
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /receipts/download [get]
func (h *ReceiptHandler) Download(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "receipts are not enabled"))
		return
	}
	token := c.Query("token")
	if strings.TrimSpace(token) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, filename, err := h.service.ResolveDownload(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck
	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read receipt"))
		return
	}
	response.AttachmentFromReader(c, filename, "application/pdf", info.Size(), file)
}

// ExportHistory godoc
// @Summary Export a plan's payment history
// @Tags Receipts
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Plan ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} binary
// @Router /payment-plans/{id}/payments/export [get]
func (h *ReceiptHandler) ExportHistory(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "receipts are not enabled"))
		return
	}
	format := service.HistoryFormat(c.DefaultQuery("format", string(service.HistoryFormatCSV)))
	out, err := h.service.ExportHistory(c.Request.Context(), c.Param("id"), format, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, out.Filename, out.ContentType, out.Data)
}
