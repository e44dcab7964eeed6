package service

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-tuition-api/internal/models"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
)

// AdmissionAttempt is a payment attempt as seen by the guard.
type AdmissionAttempt struct {
	Kind            models.PaymentKind
	InstallmentID   *string
	Amount          decimal.Decimal
	Discount        decimal.Decimal
	Method          models.PaymentMethod
	ReferenceNumber string
	ProofAttachment *string
}

// Credit is the value the attempt would settle.
func (a AdmissionAttempt) Credit() decimal.Decimal {
	return a.Amount.Add(a.Discount)
}

// AdmissionState is the ledger state the attempt is judged against. It must be read
// under the plan lock.
type AdmissionState struct {
	Plan        *models.PaymentPlan
	Installment *models.Installment
	// LatestPrior is the most recent non-rejected payment for the same target.
	LatestPrior *models.PaymentRecord
	// ActivePayments counts non-rejected payments on the installment.
	ActivePayments int
}

// AdmissionDecision is the guard verdict; Reason is nil when accepted.
type AdmissionDecision struct {
	Accepted bool
	Reason   *appErrors.Error
}

// Err returns the rejection reason as an error, or nil when accepted.
func (d AdmissionDecision) Err() error {
	if d.Accepted || d.Reason == nil {
		return nil
	}
	return d.Reason
}

func accept() AdmissionDecision { return AdmissionDecision{Accepted: true} }

func reject(reason *appErrors.Error) AdmissionDecision {
	return AdmissionDecision{Reason: reason}
}

// AdmissionGuard decides whether a payment attempt may reach the ledger.
type AdmissionGuard struct{}

// NewAdmissionGuard constructs the guard.
func NewAdmissionGuard() *AdmissionGuard {
	return &AdmissionGuard{}
}

// Admit evaluates the self-service policy: amount bounds, required fields for non-cash
// methods, then the duplicate policy against the latest prior payment.
func (g *AdmissionGuard) Admit(attempt AdmissionAttempt, state AdmissionState) AdmissionDecision {
	if decision := g.validate(attempt, state); !decision.Accepted {
		return decision
	}
	return g.duplicatePolicy(attempt, state.LatestPrior)
}

// AdmitDirect evaluates the administrative recording path, which allows at most one
// non-rejected payment per installment regardless of method.
func (g *AdmissionGuard) AdmitDirect(attempt AdmissionAttempt, state AdmissionState) AdmissionDecision {
	if decision := g.validate(attempt, state); !decision.Accepted {
		return decision
	}
	if state.Installment != nil && state.ActivePayments > 0 {
		return reject(appErrors.ErrPaymentAlreadyRecorded)
	}
	if state.Installment == nil && attempt.Kind != models.PaymentKindOtherFee {
		return g.duplicatePolicy(attempt, state.LatestPrior)
	}
	return accept()
}

func (g *AdmissionGuard) validate(attempt AdmissionAttempt, state AdmissionState) AdmissionDecision {
	if state.Plan == nil {
		return reject(appErrors.ErrNotFound)
	}
	if state.Plan.Status == models.PlanStatusCancelled {
		return reject(appErrors.ErrPlanCancelled)
	}
	if !attempt.Method.Enabled() {
		return reject(appErrors.ErrMethodDisabled)
	}
	if !attempt.Amount.IsPositive() || attempt.Discount.IsNegative() {
		return reject(appErrors.ErrInvalidAmount)
	}
	if attempt.Kind != models.PaymentKindOtherFee {
		bound := state.Plan.TotalOwed.Sub(state.Plan.TotalPaid)
		if attempt.InstallmentID != nil {
			if state.Installment == nil {
				return reject(appErrors.Clone(appErrors.ErrNotFound, "installment not found in plan"))
			}
			bound = state.Installment.AmountDue.Sub(state.Installment.AmountPaid)
		}
		if attempt.Credit().GreaterThan(bound) {
			return reject(appErrors.ErrAmountExceedsBalance)
		}
	}
	if attempt.Method != models.PaymentMethodCash {
		if strings.TrimSpace(attempt.ReferenceNumber) == "" || attempt.ProofAttachment == nil || strings.TrimSpace(*attempt.ProofAttachment) == "" {
			return reject(appErrors.ErrMissingRequiredField)
		}
	}
	return accept()
}

// duplicatePolicy: cash priors are terminal; digital priors only admit a distinct reference.
// References are compared exactly after trimming.
func (g *AdmissionGuard) duplicatePolicy(attempt AdmissionAttempt, prior *models.PaymentRecord) AdmissionDecision {
	if prior == nil || prior.Status == models.PaymentStatusRejected {
		return accept()
	}
	if prior.Method == models.PaymentMethodCash {
		return reject(appErrors.ErrAlreadySettledByCash)
	}
	if strings.TrimSpace(attempt.ReferenceNumber) == strings.TrimSpace(prior.ReferenceNumber) {
		return reject(appErrors.ErrDuplicateReference)
	}
	return accept()
}

// ComputeDiscount resolves a discount descriptor against the outstanding plan balance.
// Percentages round to cents.
func ComputeDiscount(discount *models.DiscountApplication, base decimal.Decimal) (decimal.Decimal, error) {
	if discount == nil {
		return decimal.Zero, nil
	}
	if discount.Value.IsNegative() {
		return decimal.Zero, appErrors.Clone(appErrors.ErrValidation, "discount value must not be negative")
	}
	var amount decimal.Decimal
	switch discount.ValueKind {
	case models.DiscountFixed:
		amount = discount.Value
	case models.DiscountPercentage:
		if discount.Value.GreaterThan(decimal.NewFromInt(100)) {
			return decimal.Zero, appErrors.Clone(appErrors.ErrValidation, "discount percentage must not exceed 100")
		}
		amount = base.Mul(discount.Value).Div(decimal.NewFromInt(100)).Round(2)
	default:
		return decimal.Zero, appErrors.Clone(appErrors.ErrValidation, "unsupported discount kind")
	}
	if amount.GreaterThan(base) {
		return decimal.Zero, appErrors.ErrAmountExceedsBalance
	}
	return amount, nil
}
