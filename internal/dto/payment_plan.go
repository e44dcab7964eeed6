package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

// CreatePaymentPlanRequest is supplied by the enrollment collaborator when a payer is billed.
type CreatePaymentPlanRequest struct {
	PayerID          string              `json:"payer_id" validate:"required"`
	EnrollmentID     string              `json:"enrollment_id" validate:"required"`
	BillingPeriodID  string              `json:"billing_period_id" validate:"required"`
	TotalOwed        decimal.Decimal     `json:"total_owed"`
	ScheduleKind     models.ScheduleKind `json:"schedule_kind" validate:"required"`
	InstallmentCount int                 `json:"installment_count" validate:"gte=0,lte=120"`
	StartDate        time.Time           `json:"start_date"`
}

// PaymentPlanResponse bundles a plan with its installments.
type PaymentPlanResponse struct {
	Plan         *models.PaymentPlan  `json:"plan"`
	Installments []models.Installment `json:"installments"`
}

// PaymentPlanSummary is the read model shown to payers and staff.
type PaymentPlanSummary struct {
	PlanID            string              `json:"plan_id"`
	PayerID           string              `json:"payer_id"`
	TotalOwed         decimal.Decimal     `json:"total_owed"`
	TotalPaid         decimal.Decimal     `json:"total_paid"`
	Balance           decimal.Decimal     `json:"balance"`
	Status            models.PlanStatus   `json:"status"`
	ScheduleKind      models.ScheduleKind `json:"schedule_kind"`
	InstallmentCount  int                 `json:"installment_count"`
	PercentPaid       float64             `json:"percent_paid"`
	InstallmentsPaid  int                 `json:"installments_paid"`
	InstallmentsTotal int                 `json:"installments_total"`
	NextDueDate       *time.Time          `json:"next_due_date,omitempty"`
}

// PaymentPlanQuery mirrors listing filters.
type PaymentPlanQuery struct {
	PayerID         string
	BillingPeriodID string
	Status          models.PlanStatus
	Page            int
	PageSize        int
}

// ScheduleEditEntry changes the due date and/or amount of one installment.
type ScheduleEditEntry struct {
	SequenceNumber int              `json:"sequence_number" validate:"required,gte=1"`
	DueDate        *time.Time       `json:"due_date,omitempty"`
	AmountDue      *decimal.Decimal `json:"amount_due,omitempty"`
}

// EditScheduleRequest is applied as a single batch.
type EditScheduleRequest struct {
	Entries []ScheduleEditEntry `json:"entries" validate:"required,min=1,dive"`
}

// ScheduleConflict explains why one entry of a batch could not be applied.
// SequenceNumber 0 marks a plan-level failure such as a sum mismatch.
type ScheduleConflict struct {
	SequenceNumber int    `json:"sequence_number"`
	Field          string `json:"field"`
	Reason         string `json:"reason"`
}

// ScheduleEditRejection is attached to a rejected batch so callers can retry it as a whole.
type ScheduleEditRejection struct {
	Conflicts []ScheduleConflict  `json:"conflicts"`
	Proposed  []ScheduleEditEntry `json:"proposed"`
}

// OverdueEntry is one item of the external overdue signal.
type OverdueEntry struct {
	SequenceNumber int             `json:"sequence_number" validate:"required,gte=1"`
	DaysOverdue    int             `json:"days_overdue" validate:"gte=0"`
	LateFee        decimal.Decimal `json:"late_fee"`
}

// MarkOverdueRequest carries overdue flags for a plan's installments.
type MarkOverdueRequest struct {
	Entries []OverdueEntry `json:"entries" validate:"required,min=1,dive"`
}
