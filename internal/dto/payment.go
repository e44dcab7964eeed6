package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

// PaymentRequest is used by both the self-service and the counter recording paths.
// InstallmentID is omitted for full tuition payments and other fees.
type PaymentRequest struct {
	PlanID          string                      `json:"plan_id" validate:"required"`
	InstallmentID   *string                     `json:"installment_id,omitempty"`
	Kind            models.PaymentKind          `json:"kind" validate:"required,oneof=FULL_TUITION_PAYMENT INSTALLMENT_PAYMENT OTHER_FEE"`
	Amount          decimal.Decimal             `json:"amount"`
	Method          models.PaymentMethod        `json:"method" validate:"required"`
	ReferenceNumber string                      `json:"reference_number"`
	ProofAttachment *string                     `json:"proof_attachment,omitempty"`
	Discount        *models.DiscountApplication `json:"discount,omitempty"`
	Note            string                      `json:"note"`
	IdempotencyKey  string                      `json:"-"`
}

// ReviewPaymentRequest captures the approval collaborator's decision.
type ReviewPaymentRequest struct {
	Status models.PaymentStatus `json:"status" validate:"required,oneof=APPROVED REJECTED"`
	Note   string               `json:"note"`
}

// PaymentQuery mirrors history filters.
type PaymentQuery struct {
	Status []models.PaymentStatus
	Limit  int
	Offset int
}

// ReceiptLinkResponse carries a time-limited download link for a receipt PDF.
type ReceiptLinkResponse struct {
	ReceiptNumber string    `json:"receipt_number"`
	URL           string    `json:"url"`
	ExpiresAt     time.Time `json:"expires_at"`
}
