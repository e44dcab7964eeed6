package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-tuition-api/internal/models"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
)

// LedgerResult describes the rows touched by a ledger operation. Allocations hold the
// per-installment share of the credit and are persisted alongside the payment.
type LedgerResult struct {
	Plan        *models.PaymentPlan
	Touched     []*models.Installment
	Allocations []models.PaymentAllocation
}

// BalanceLedger maintains the derived balances on plans and installments. It works on
// snapshots loaded under the plan lock; callers persist the result in the same transaction.
type BalanceLedger struct {
	now func() time.Time
}

// NewBalanceLedger constructs a ledger using the wall clock.
func NewBalanceLedger() *BalanceLedger {
	return &BalanceLedger{now: func() time.Time { return time.Now().UTC() }}
}

// ApplyPayment credits an installment (or, with a nil installmentID, the plan's unpaid
// installments in sequence order). Every bound is checked before anything is mutated.
func (l *BalanceLedger) ApplyPayment(plan *models.PaymentPlan, installments []*models.Installment, installmentID *string, credit decimal.Decimal) (*LedgerResult, error) {
	if plan == nil {
		return nil, appErrors.ErrNotFound
	}
	if !credit.IsPositive() {
		return nil, appErrors.ErrInvalidAmount
	}
	if plan.Status == models.PlanStatusCancelled {
		return nil, appErrors.ErrPlanCancelled
	}
	plan.Derive()
	if credit.GreaterThan(plan.Balance) {
		return nil, appErrors.ErrAmountExceedsBalance
	}

	var allocations []models.PaymentAllocation
	if installmentID != nil {
		target := findInstallment(installments, *installmentID)
		if target == nil || target.PlanID != plan.ID {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "installment not found in plan")
		}
		target.Derive()
		if credit.GreaterThan(target.Balance) {
			return nil, appErrors.ErrAmountExceedsBalance
		}
		allocations = append(allocations, models.PaymentAllocation{InstallmentID: target.ID, Amount: credit})
	} else {
		remaining := credit
		for _, inst := range sortedBySequence(installments) {
			if !remaining.IsPositive() {
				break
			}
			inst.Derive()
			if !inst.Balance.IsPositive() {
				continue
			}
			share := decimal.Min(remaining, inst.Balance)
			allocations = append(allocations, models.PaymentAllocation{InstallmentID: inst.ID, Amount: share})
			remaining = remaining.Sub(share)
		}
		if remaining.IsPositive() {
			// plan balance and installment balances disagree; refuse rather than overpay
			return nil, appErrors.Clone(appErrors.ErrAmountExceedsBalance, "installment balances do not cover the payment")
		}
	}

	now := l.now()
	touched := make([]*models.Installment, 0, len(allocations))
	for _, alloc := range allocations {
		inst := findInstallment(installments, alloc.InstallmentID)
		inst.AmountPaid = inst.AmountPaid.Add(alloc.Amount)
		rederiveInstallmentStatus(inst, now)
		inst.UpdatedAt = now
		touched = append(touched, inst)
	}

	plan.TotalPaid = plan.TotalPaid.Add(credit)
	plan.Derive()
	switch {
	case plan.Balance.IsZero():
		plan.Status = models.PlanStatusCompleted
	case plan.Status == models.PlanStatusOverdue && !anyOverdue(installments):
		plan.Status = models.PlanStatusActive
	}
	plan.UpdatedAt = now

	return &LedgerResult{Plan: plan, Touched: touched, Allocations: allocations}, nil
}

// Release removes previously applied allocations, used when a pending payment is rejected
// by review. Installment statuses are re-derived and a Completed plan returns to Active,
// or to Overdue when an installment is still flagged.
func (l *BalanceLedger) Release(plan *models.PaymentPlan, installments []*models.Installment, allocations []models.PaymentAllocation) (*LedgerResult, error) {
	if plan == nil {
		return nil, appErrors.ErrNotFound
	}
	total := decimal.Zero
	for _, alloc := range allocations {
		inst := findInstallment(installments, alloc.InstallmentID)
		if inst == nil {
			return nil, fmt.Errorf("allocation references unknown installment %s", alloc.InstallmentID)
		}
		if alloc.Amount.GreaterThan(inst.AmountPaid) {
			return nil, fmt.Errorf("allocation %s exceeds amount paid on installment %d", alloc.ID, inst.SequenceNumber)
		}
		total = total.Add(alloc.Amount)
	}
	if total.GreaterThan(plan.TotalPaid) {
		return nil, fmt.Errorf("release of %s exceeds plan total paid %s", total, plan.TotalPaid)
	}

	now := l.now()
	touched := make([]*models.Installment, 0, len(allocations))
	for _, alloc := range allocations {
		inst := findInstallment(installments, alloc.InstallmentID)
		inst.AmountPaid = inst.AmountPaid.Sub(alloc.Amount)
		rederiveInstallmentStatus(inst, now)
		inst.UpdatedAt = now
		touched = append(touched, inst)
	}

	plan.TotalPaid = plan.TotalPaid.Sub(total)
	plan.Derive()
	if plan.Status == models.PlanStatusCompleted && plan.Balance.IsPositive() {
		plan.Status = models.PlanStatusActive
		if anyOverdue(installments) {
			plan.Status = models.PlanStatusOverdue
		}
	}
	plan.UpdatedAt = now

	return &LedgerResult{Plan: plan, Touched: touched, Allocations: allocations}, nil
}

func findInstallment(installments []*models.Installment, id string) *models.Installment {
	for _, inst := range installments {
		if inst.ID == id {
			return inst
		}
	}
	return nil
}

func sortedBySequence(installments []*models.Installment) []*models.Installment {
	out := append([]*models.Installment(nil), installments...)
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}

func anyOverdue(installments []*models.Installment) bool {
	for _, inst := range installments {
		if inst.DaysOverdue > 0 && inst.AmountDue.GreaterThan(inst.AmountPaid) {
			return true
		}
	}
	return false
}
