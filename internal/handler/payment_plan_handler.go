package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-tuition-api/internal/dto"
	"github.com/noah-isme/sma-tuition-api/internal/models"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
	"github.com/noah-isme/sma-tuition-api/pkg/response"
)

type paymentPlanService interface {
	CreatePlan(ctx context.Context, req dto.CreatePaymentPlanRequest, actor *models.JWTClaims) (*dto.PaymentPlanResponse, error)
	GetSummary(ctx context.Context, id string, actor *models.JWTClaims) (*dto.PaymentPlanSummary, error)
	ListPlans(ctx context.Context, query dto.PaymentPlanQuery, actor *models.JWTClaims) ([]models.PaymentPlan, *models.Pagination, error)
	ListInstallments(ctx context.Context, planID string, actor *models.JWTClaims) ([]models.Installment, error)
	CancelPlan(ctx context.Context, planID string, actor *models.JWTClaims) (*models.PaymentPlan, error)
	EditInstallmentSchedule(ctx context.Context, planID string, req dto.EditScheduleRequest, actor *models.JWTClaims) ([]models.Installment, error)
	MarkOverdue(ctx context.Context, planID string, req dto.MarkOverdueRequest, actor *models.JWTClaims) (*models.PaymentPlan, error)
}

// PaymentPlanHandler exposes payment plan lifecycle endpoints.
type PaymentPlanHandler struct {
	service paymentPlanService
}

// NewPaymentPlanHandler builds a new handler.
func NewPaymentPlanHandler(service paymentPlanService) *PaymentPlanHandler {
	return &PaymentPlanHandler{service: service}
}

// Create godoc
// @Summary Create a payment plan with its installment schedule
// @Tags PaymentPlans
// @Accept json
// @Produce json
// @Param payload body dto.CreatePaymentPlanRequest true "Plan payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payment-plans [post]
func (h *PaymentPlanHandler) Create(c *gin.Context) {
	var req dto.CreatePaymentPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment plan payload"))
		return
	}
	plan, err := h.service.CreatePlan(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, plan)
}

// List godoc
// @Summary List payment plans
// @Tags PaymentPlans
// @Produce json
// @Param payer_id query string false "Payer filter (staff only)"
// @Param billing_period_id query string false "Billing period filter"
// @Param status query string false "ACTIVE, COMPLETED, OVERDUE or CANCELLED"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /payment-plans [get]
func (h *PaymentPlanHandler) List(c *gin.Context) {
	query := dto.PaymentPlanQuery{
		PayerID:         c.Query("payer_id"),
		BillingPeriodID: c.Query("billing_period_id"),
		Status:          models.PlanStatus(c.Query("status")),
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		query.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		query.PageSize = size
	}
	plans, pagination, err := h.service.ListPlans(c.Request.Context(), query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plans, pagination)
}

// Get godoc
// @Summary Payment plan summary
// @Tags PaymentPlans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /payment-plans/{id} [get]
func (h *PaymentPlanHandler) Get(c *gin.Context) {
	summary, err := h.service.GetSummary(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Installments godoc
// @Summary List a plan's installments
// @Tags PaymentPlans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /payment-plans/{id}/installments [get]
func (h *PaymentPlanHandler) Installments(c *gin.Context) {
	installments, err := h.service.ListInstallments(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, installments, nil)
}

// EditSchedule godoc
// @Summary Edit installment due dates and amounts as one batch
// @Description Every entry is applied or none is. A rejected batch returns SCHEDULE_CONFLICT with the conflicting entries in error.details.
// @Tags PaymentPlans
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param payload body dto.EditScheduleRequest true "Schedule edits"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payment-plans/{id}/installments [put]
func (h *PaymentPlanHandler) EditSchedule(c *gin.Context) {
	var req dto.EditScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid schedule payload"))
		return
	}
	installments, err := h.service.EditInstallmentSchedule(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, installments, nil)
}

// Cancel godoc
// @Summary Cancel a payment plan
// @Tags PaymentPlans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /payment-plans/{id}/cancel [post]
func (h *PaymentPlanHandler) Cancel(c *gin.Context) {
	plan, err := h.service.CancelPlan(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}

// MarkOverdue godoc
// @Summary Apply the external overdue signal to a plan
// @Tags PaymentPlans
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param payload body dto.MarkOverdueRequest true "Overdue flags"
// @Success 200 {object} response.Envelope
// @Router /payment-plans/{id}/overdue [post]
func (h *PaymentPlanHandler) MarkOverdue(c *gin.Context) {
	var req dto.MarkOverdueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid overdue payload"))
		return
	}
	plan, err := h.service.MarkOverdue(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}
