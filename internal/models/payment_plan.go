package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScheduleKind selects the installment preset for a plan.
type ScheduleKind string

const (
	ScheduleFullPayment ScheduleKind = "FULL_PAYMENT"
	ScheduleMonthly     ScheduleKind = "MONTHLY"
	ScheduleQuarterly   ScheduleKind = "QUARTERLY"
	ScheduleSemiAnnual  ScheduleKind = "SEMI_ANNUAL"
	ScheduleCustom      ScheduleKind = "CUSTOM"
)

// Valid reports whether the kind is one of the supported presets.
func (k ScheduleKind) Valid() bool {
	switch k {
	case ScheduleFullPayment, ScheduleMonthly, ScheduleQuarterly, ScheduleSemiAnnual, ScheduleCustom:
		return true
	default:
		return false
	}
}

// PlanStatus represents the lifecycle of a payment plan.
type PlanStatus string

const (
	PlanStatusActive    PlanStatus = "ACTIVE"
	PlanStatusCompleted PlanStatus = "COMPLETED"
	PlanStatusOverdue   PlanStatus = "OVERDUE"
	PlanStatusCancelled PlanStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed.
func (s PlanStatus) Terminal() bool {
	return s == PlanStatusCompleted || s == PlanStatusCancelled
}

// InstallmentStatus represents the settlement state of an installment.
type InstallmentStatus string

const (
	InstallmentStatusPending InstallmentStatus = "PENDING"
	InstallmentStatusPartial InstallmentStatus = "PARTIAL"
	InstallmentStatusPaid    InstallmentStatus = "PAID"
	InstallmentStatusOverdue InstallmentStatus = "OVERDUE"
)

// PaymentPlan is a payer's tuition obligation for one billing period.
// Balance is derived from TotalOwed and TotalPaid and is never persisted.
type PaymentPlan struct {
	ID               string          `db:"id" json:"id"`
	PayerID          string          `db:"payer_id" json:"payer_id"`
	EnrollmentID     string          `db:"enrollment_id" json:"enrollment_id"`
	BillingPeriodID  string          `db:"billing_period_id" json:"billing_period_id"`
	TotalOwed        decimal.Decimal `db:"total_owed" json:"total_owed"`
	TotalPaid        decimal.Decimal `db:"total_paid" json:"total_paid"`
	Balance          decimal.Decimal `db:"balance" json:"balance"`
	ScheduleKind     ScheduleKind    `db:"schedule_kind" json:"schedule_kind"`
	InstallmentCount int             `db:"installment_count" json:"installment_count"`
	Status           PlanStatus      `db:"status" json:"status"`
	StartDate        time.Time       `db:"start_date" json:"start_date"`
	CancelledAt      *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Derive recomputes the balance from owed and paid amounts.
func (p *PaymentPlan) Derive() {
	p.Balance = p.TotalOwed.Sub(p.TotalPaid)
}

// Installment is one scheduled partial obligation within a plan.
type Installment struct {
	ID             string            `db:"id" json:"id"`
	PlanID         string            `db:"plan_id" json:"plan_id"`
	SequenceNumber int               `db:"sequence_number" json:"sequence_number"`
	AmountDue      decimal.Decimal   `db:"amount_due" json:"amount_due"`
	AmountPaid     decimal.Decimal   `db:"amount_paid" json:"amount_paid"`
	Balance        decimal.Decimal   `db:"balance" json:"balance"`
	DueDate        time.Time         `db:"due_date" json:"due_date"`
	PaidDate       *time.Time        `db:"paid_date" json:"paid_date,omitempty"`
	Status         InstallmentStatus `db:"status" json:"status"`
	LateFee        decimal.Decimal   `db:"late_fee" json:"late_fee"`
	DaysOverdue    int               `db:"days_overdue" json:"days_overdue"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updated_at"`
}

// Derive recomputes the balance from due and paid amounts.
func (i *Installment) Derive() {
	i.Balance = i.AmountDue.Sub(i.AmountPaid)
}

// PaymentPlanFilter constrains plan listing queries.
type PaymentPlanFilter struct {
	PayerID         string
	BillingPeriodID string
	Status          PlanStatus
	Page            int
	PageSize        int
}
