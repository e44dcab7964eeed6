package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-tuition-api/internal/dto"
	"github.com/noah-isme/sma-tuition-api/internal/models"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
	"github.com/noah-isme/sma-tuition-api/pkg/response"
)

// IdempotencyHeader lets clients retry a payment submission safely.
const IdempotencyHeader = "Idempotency-Key"

type paymentService interface {
	SubmitPayment(ctx context.Context, req dto.PaymentRequest, actor *models.JWTClaims) (*models.PaymentRecord, error)
	RecordCounterPayment(ctx context.Context, req dto.PaymentRequest, actor *models.JWTClaims) (*models.PaymentRecord, error)
	ReviewPayment(ctx context.Context, id string, req dto.ReviewPaymentRequest, actor *models.JWTClaims) (*models.PaymentRecord, error)
	GetPayment(ctx context.Context, id string, actor *models.JWTClaims) (*models.PaymentRecord, error)
	ListPlanPayments(ctx context.Context, planID string, query dto.PaymentQuery, actor *models.JWTClaims) ([]models.PaymentRecord, error)
	ListInstallmentPayments(ctx context.Context, installmentID string, query dto.PaymentQuery, actor *models.JWTClaims) ([]models.PaymentRecord, error)
}

// PaymentHandler exposes payment submission, review and history endpoints.
type PaymentHandler struct {
	service paymentService
}

// NewPaymentHandler builds a new handler.
func NewPaymentHandler(service paymentService) *PaymentHandler {
	return &PaymentHandler{service: service}
}

// Submit godoc
// @Summary Submit a payment for review
// @Tags Payments
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Retry key"
// @Param payload body dto.PaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments [post]
func (h *PaymentHandler) Submit(c *gin.Context) {
	req, ok := bindPayment(c)
	if !ok {
		return
	}
	payment, err := h.service.SubmitPayment(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, payment)
}

// RecordCounter godoc
// @Summary Record a payment taken at the school counter
// @Tags Payments
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Retry key"
// @Param payload body dto.PaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments/counter [post]
func (h *PaymentHandler) RecordCounter(c *gin.Context) {
	req, ok := bindPayment(c)
	if !ok {
		return
	}
	payment, err := h.service.RecordCounterPayment(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, payment)
}

// Review godoc
// @Summary Approve or reject a pending payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Param payload body dto.ReviewPaymentRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /payments/{id}/review [post]
func (h *PaymentHandler) Review(c *gin.Context) {
	var req dto.ReviewPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
		return
	}
	payment, err := h.service.ReviewPayment(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// Get godoc
// @Summary Get a payment
// @Tags Payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Router /payments/{id} [get]
func (h *PaymentHandler) Get(c *gin.Context) {
	payment, err := h.service.GetPayment(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// PlanHistory godoc
// @Summary Payment history of a plan
// @Tags Payments
// @Produce json
// @Param id path string true "Plan ID"
// @Param status query string false "Comma separated statuses"
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /payment-plans/{id}/payments [get]
func (h *PaymentHandler) PlanHistory(c *gin.Context) {
	payments, err := h.service.ListPlanPayments(c.Request.Context(), c.Param("id"), paymentQuery(c), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, nil)
}

// InstallmentHistory godoc
// @Summary Payment history of an installment
// @Tags Payments
// @Produce json
// @Param id path string true "Installment ID"
// @Param status query string false "Comma separated statuses"
// @Success 200 {object} response.Envelope
// @Router /installments/{id}/payments [get]
func (h *PaymentHandler) InstallmentHistory(c *gin.Context) {
	payments, err := h.service.ListInstallmentPayments(c.Request.Context(), c.Param("id"), paymentQuery(c), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, nil)
}

func bindPayment(c *gin.Context) (dto.PaymentRequest, bool) {
	var req dto.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment payload"))
		return req, false
	}
	req.IdempotencyKey = strings.TrimSpace(c.GetHeader(IdempotencyHeader))
	return req, true
}

func paymentQuery(c *gin.Context) dto.PaymentQuery {
	var query dto.PaymentQuery
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				query.Status = append(query.Status, models.PaymentStatus(strings.ToUpper(part)))
			}
		}
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "100")); err == nil {
		query.Limit = limit
	}
	if offset, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil {
		query.Offset = offset
	}
	return query
}
