package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentKind classifies what a payment settles.
type PaymentKind string

const (
	PaymentKindFullTuition PaymentKind = "FULL_TUITION_PAYMENT"
	PaymentKindInstallment PaymentKind = "INSTALLMENT_PAYMENT"
	PaymentKindOtherFee    PaymentKind = "OTHER_FEE"
)

// PaymentMethod enumerates how the money was transferred.
type PaymentMethod string

const (
	PaymentMethodCash          PaymentMethod = "CASH"
	PaymentMethodDigitalWallet PaymentMethod = "DIGITAL_WALLET"
	PaymentMethodBankTransfer  PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCheck         PaymentMethod = "CHECK"
	PaymentMethodOther         PaymentMethod = "OTHER"
)

// Valid reports whether the method is known (enabled or not).
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodDigitalWallet, PaymentMethodBankTransfer, PaymentMethodCheck, PaymentMethodOther:
		return true
	default:
		return false
	}
}

// Enabled reports whether payments may currently be taken with this method.
func (m PaymentMethod) Enabled() bool {
	return m.Valid() && m != PaymentMethodBankTransfer
}

// PaymentStatus captures the review state of a payment record.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusApproved PaymentStatus = "APPROVED"
	PaymentStatusRejected PaymentStatus = "REJECTED"
)

// PaymentRecord is one attempted or completed transfer of money.
type PaymentRecord struct {
	ID              string          `db:"id" json:"id"`
	PlanID          string          `db:"plan_id" json:"plan_id"`
	PayerID         string          `db:"payer_id" json:"payer_id"`
	EnrollmentID    string          `db:"enrollment_id" json:"enrollment_id"`
	BillingPeriodID string          `db:"billing_period_id" json:"billing_period_id"`
	InstallmentID   *string         `db:"installment_id" json:"installment_id,omitempty"`
	Kind            PaymentKind     `db:"kind" json:"kind"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	DiscountAmount  decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	Method          PaymentMethod   `db:"method" json:"method"`
	ReferenceNumber string          `db:"reference_number" json:"reference_number"`
	ProofAttachment *string         `db:"proof_attachment" json:"proof_attachment,omitempty"`
	Status          PaymentStatus   `db:"status" json:"status"`
	ReceiptNumber   string          `db:"receipt_number" json:"receipt_number"`
	IdempotencyKey  *string         `db:"idempotency_key" json:"-"`
	RecordedBy      string          `db:"recorded_by" json:"recorded_by"`
	ReviewedBy      *string         `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time      `db:"reviewed_at" json:"reviewed_at,omitempty"`
	Note            *string         `db:"note" json:"note,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Credit is the value the payment settles against the ledger.
func (p *PaymentRecord) Credit() decimal.Decimal {
	return p.Amount.Add(p.DiscountAmount)
}

// PaymentFilter constrains payment history queries.
type PaymentFilter struct {
	PlanID        string
	InstallmentID string
	Status        []PaymentStatus
	Limit         int
	Offset        int
}

// DiscountKind describes how a discount value is interpreted.
type DiscountKind string

const (
	DiscountFixed      DiscountKind = "FIXED"
	DiscountPercentage DiscountKind = "PERCENTAGE"
)

// DiscountApplication is applied once to a full tuition payment at submission time.
type DiscountApplication struct {
	Value     decimal.Decimal `json:"value"`
	ValueKind DiscountKind    `json:"value_kind"`
}

// PaymentAllocation records how much of a payment credit landed on each installment.
type PaymentAllocation struct {
	ID            string          `db:"id" json:"id"`
	PaymentID     string          `db:"payment_id" json:"payment_id"`
	InstallmentID string          `db:"installment_id" json:"installment_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}
