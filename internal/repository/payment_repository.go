package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

// Unique constraint names from migrations/0001_tuition.sql.
const (
	constraintPlanPayerPeriod = "payment_plans_payer_period_key"
	constraintReceiptNumber   = "payments_receipt_number_key"
	constraintIdempotencyKey  = "payments_idempotency_key_key"
	uniqueViolationCode       = "23505"
)

const (
	paymentColumns    = `id, plan_id, payer_id, enrollment_id, billing_period_id, installment_id, kind, amount, discount_amount, method, reference_number, proof_attachment, status, receipt_number, idempotency_key, recorded_by, reviewed_by, reviewed_at, note, created_at`
	allocationColumns = `id, payment_id, installment_id, amount, created_at`
)

var (
	// ErrDuplicatePlan indicates a plan already exists for the payer and billing period.
	ErrDuplicatePlan = errors.New("payment plan already exists for payer and billing period")
	// ErrDuplicateReceipt indicates the receipt number is already taken.
	ErrDuplicateReceipt = errors.New("receipt number already in use")
	// ErrDuplicateIdempotencyKey indicates the idempotency key was already stored.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
)

func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != uniqueViolationCode {
		return err
	}
	switch pqErr.Constraint {
	case constraintPlanPayerPeriod:
		return ErrDuplicatePlan
	case constraintReceiptNumber:
		return ErrDuplicateReceipt
	case constraintIdempotencyKey:
		return ErrDuplicateIdempotencyKey
	default:
		return err
	}
}

// PaymentRepository reads payment history outside the plan lock.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// GetByID fetches a payment by identifier.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*models.PaymentRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM payments WHERE id = $1", paymentColumns)
	var payment models.PaymentRecord
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindByIdempotencyKey returns the payment stored under the key, or nil when none exists.
func (r *PaymentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*models.PaymentRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM payments WHERE idempotency_key = $1", paymentColumns)
	var payment models.PaymentRecord
	if err := r.db.GetContext(ctx, &payment, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find payment by idempotency key: %w", err)
	}
	return &payment, nil
}

// List returns payment history for a plan or installment, newest first.
func (r *PaymentRepository) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRecord, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(fmt.Sprintf("SELECT %s FROM payments", paymentColumns))

	conditions := make([]string, 0, 3)
	if filter.PlanID != "" {
		args = append(args, filter.PlanID)
		conditions = append(conditions, fmt.Sprintf("plan_id = $%d", len(args)))
	}
	if filter.InstallmentID != "" {
		args = append(args, filter.InstallmentID)
		conditions = append(conditions, fmt.Sprintf("installment_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var payments []models.PaymentRecord
	if err := r.db.SelectContext(ctx, &payments, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

// ReferenceExists reports whether the value is already used as a receipt or reference number.
func (r *PaymentRepository) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM payments WHERE receipt_number = $1 OR reference_number = $1)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, reference); err != nil {
		return false, fmt.Errorf("check reference exists: %w", err)
	}
	return exists, nil
}

// ListAllocations returns the installment shares recorded for a payment.
func (r *PaymentRepository) ListAllocations(ctx context.Context, paymentID string) ([]models.PaymentAllocation, error) {
	query := fmt.Sprintf("SELECT %s FROM payment_allocations WHERE payment_id = $1 ORDER BY created_at", allocationColumns)
	var allocations []models.PaymentAllocation
	if err := r.db.SelectContext(ctx, &allocations, query, paymentID); err != nil {
		return nil, fmt.Errorf("list payment allocations: %w", err)
	}
	return allocations, nil
}
