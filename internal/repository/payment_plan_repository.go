package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

const (
	planColumns        = `id, payer_id, enrollment_id, billing_period_id, total_owed, total_paid, total_owed - total_paid AS balance, schedule_kind, installment_count, status, start_date, cancelled_at, created_at, updated_at`
	installmentColumns = `id, plan_id, sequence_number, amount_due, amount_paid, amount_due - amount_paid AS balance, due_date, paid_date, status, late_fee, days_overdue, updated_at`
)

// PaymentPlanRepository persists plans and their installments.
type PaymentPlanRepository struct {
	db *sqlx.DB
}

// NewPaymentPlanRepository constructs the repository.
func NewPaymentPlanRepository(db *sqlx.DB) *PaymentPlanRepository {
	return &PaymentPlanRepository{db: db}
}

// CreateWithInstallments inserts the plan and its schedule atomically.
func (r *PaymentPlanRepository) CreateWithInstallments(ctx context.Context, plan *models.PaymentPlan, installments []models.Installment) (err error) {
	now := time.Now().UTC()
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.Status == "" {
		plan.Status = models.PlanStatusActive
	}
	plan.CreatedAt = now
	plan.UpdatedAt = now
	plan.InstallmentCount = len(installments)
	plan.Derive()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin payment plan transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const planQuery = `INSERT INTO payment_plans
	(id, payer_id, enrollment_id, billing_period_id, total_owed, total_paid, schedule_kind, installment_count, status, start_date, cancelled_at, created_at, updated_at)
	VALUES (:id, :payer_id, :enrollment_id, :billing_period_id, :total_owed, :total_paid, :schedule_kind, :installment_count, :status, :start_date, :cancelled_at, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, planQuery, plan); err != nil {
		err = mapUniqueViolation(err)
		if errors.Is(err, ErrDuplicatePlan) {
			return err
		}
		return fmt.Errorf("insert payment plan: %w", err)
	}

	const installmentQuery = `INSERT INTO installments
	(id, plan_id, sequence_number, amount_due, amount_paid, due_date, paid_date, status, late_fee, days_overdue, updated_at)
	VALUES (:id, :plan_id, :sequence_number, :amount_due, :amount_paid, :due_date, :paid_date, :status, :late_fee, :days_overdue, :updated_at)`
	for i := range installments {
		inst := &installments[i]
		if inst.ID == "" {
			inst.ID = uuid.NewString()
		}
		inst.PlanID = plan.ID
		inst.UpdatedAt = now
		inst.Derive()
		if _, err = tx.NamedExecContext(ctx, installmentQuery, inst); err != nil {
			return fmt.Errorf("insert installment %d: %w", inst.SequenceNumber, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit payment plan: %w", err)
	}
	return nil
}

// GetByID fetches a plan with its derived balance.
func (r *PaymentPlanRepository) GetByID(ctx context.Context, id string) (*models.PaymentPlan, error) {
	query := fmt.Sprintf("SELECT %s FROM payment_plans WHERE id = $1", planColumns)
	var plan models.PaymentPlan
	if err := r.db.GetContext(ctx, &plan, query, id); err != nil {
		return nil, err
	}
	return &plan, nil
}

// List returns plans matching the filter together with the total count.
func (r *PaymentPlanRepository) List(ctx context.Context, filter models.PaymentPlanFilter) ([]models.PaymentPlan, int, error) {
	args := []interface{}{}
	conditions := []string{"1=1"}
	if filter.PayerID != "" {
		args = append(args, filter.PayerID)
		conditions = append(conditions, fmt.Sprintf("payer_id = $%d", len(args)))
	}
	if filter.BillingPeriodID != "" {
		args = append(args, filter.BillingPeriodID)
		conditions = append(conditions, fmt.Sprintf("billing_period_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	base := fmt.Sprintf("FROM payment_plans WHERE %s", strings.Join(conditions, " AND "))

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", planColumns, base, size, offset)
	var plans []models.PaymentPlan
	if err := r.db.SelectContext(ctx, &plans, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list payment plans: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) %s", base), args...); err != nil {
		return nil, 0, fmt.Errorf("count payment plans: %w", err)
	}
	return plans, total, nil
}

// ListInstallments returns the plan schedule ordered by sequence.
func (r *PaymentPlanRepository) ListInstallments(ctx context.Context, planID string) ([]models.Installment, error) {
	query := fmt.Sprintf("SELECT %s FROM installments WHERE plan_id = $1 ORDER BY sequence_number", installmentColumns)
	var installments []models.Installment
	if err := r.db.SelectContext(ctx, &installments, query, planID); err != nil {
		return nil, fmt.Errorf("list installments: %w", err)
	}
	return installments, nil
}

// GetInstallment fetches a single installment.
func (r *PaymentPlanRepository) GetInstallment(ctx context.Context, id string) (*models.Installment, error) {
	query := fmt.Sprintf("SELECT %s FROM installments WHERE id = $1", installmentColumns)
	var inst models.Installment
	if err := r.db.GetContext(ctx, &inst, query, id); err != nil {
		return nil, err
	}
	return &inst, nil
}

// PlanTx exposes the rows of one plan locked for the duration of a transaction.
type PlanTx interface {
	Plan() *models.PaymentPlan
	Installments() []*models.Installment
	LatestActivePayment(ctx context.Context, installmentID *string) (*models.PaymentRecord, error)
	CountActivePayments(ctx context.Context, installmentID string) (int, error)
	GetPaymentForUpdate(ctx context.Context, paymentID string) (*models.PaymentRecord, error)
	Allocations(ctx context.Context, paymentID string) ([]models.PaymentAllocation, error)
	InsertPayment(ctx context.Context, payment *models.PaymentRecord, allocations []models.PaymentAllocation) error
	UpdatePaymentReview(ctx context.Context, params ReviewPaymentParams) error
	SavePlan(ctx context.Context) error
	SaveInstallments(ctx context.Context, installments []*models.Installment) error
}

// ReviewPaymentParams groups the columns written by a review decision.
type ReviewPaymentParams struct {
	ID         string
	Status     models.PaymentStatus
	ReviewedBy string
	ReviewedAt time.Time
	Note       *string
}

// WithPlanLock runs fn inside a transaction holding FOR UPDATE locks on the plan row and its
// installments. The transaction commits only when fn returns nil. sql.ErrNoRows is returned
// unchanged when the plan does not exist.
func (r *PaymentPlanRepository) WithPlanLock(ctx context.Context, planID string, fn func(tx PlanTx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin plan lock: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var plan models.PaymentPlan
	planQuery := fmt.Sprintf("SELECT %s FROM payment_plans WHERE id = $1 FOR UPDATE", planColumns)
	if err = tx.GetContext(ctx, &plan, planQuery, planID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("lock payment plan: %w", err)
	}

	var rows []models.Installment
	instQuery := fmt.Sprintf("SELECT %s FROM installments WHERE plan_id = $1 ORDER BY sequence_number FOR UPDATE", installmentColumns)
	if err = tx.SelectContext(ctx, &rows, instQuery, planID); err != nil {
		return fmt.Errorf("lock installments: %w", err)
	}
	installments := make([]*models.Installment, len(rows))
	for i := range rows {
		installments[i] = &rows[i]
	}

	if err = fn(&planTx{tx: tx, plan: &plan, installments: installments}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit plan lock: %w", err)
	}
	return nil
}

type planTx struct {
	tx           *sqlx.Tx
	plan         *models.PaymentPlan
	installments []*models.Installment
}

func (t *planTx) Plan() *models.PaymentPlan { return t.plan }

func (t *planTx) Installments() []*models.Installment { return t.installments }

// LatestActivePayment returns the newest non-rejected payment for the installment, or for
// plan-level payments when installmentID is nil. Other fees never take part.
func (t *planTx) LatestActivePayment(ctx context.Context, installmentID *string) (*models.PaymentRecord, error) {
	var (
		query string
		args  []interface{}
	)
	if installmentID != nil {
		query = fmt.Sprintf(`SELECT %s FROM payments WHERE plan_id = $1 AND installment_id = $2 AND status <> $3
	ORDER BY created_at DESC LIMIT 1`, paymentColumns)
		args = []interface{}{t.plan.ID, *installmentID, models.PaymentStatusRejected}
	} else {
		query = fmt.Sprintf(`SELECT %s FROM payments WHERE plan_id = $1 AND installment_id IS NULL AND status <> $2 AND kind <> $3
	ORDER BY created_at DESC LIMIT 1`, paymentColumns)
		args = []interface{}{t.plan.ID, models.PaymentStatusRejected, models.PaymentKindOtherFee}
	}
	var payment models.PaymentRecord
	if err := t.tx.GetContext(ctx, &payment, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest active payment: %w", err)
	}
	return &payment, nil
}

func (t *planTx) CountActivePayments(ctx context.Context, installmentID string) (int, error) {
	const query = `SELECT COUNT(*) FROM payments WHERE installment_id = $1 AND status <> $2`
	var count int
	if err := t.tx.GetContext(ctx, &count, query, installmentID, models.PaymentStatusRejected); err != nil {
		return 0, fmt.Errorf("count active payments: %w", err)
	}
	return count, nil
}

func (t *planTx) GetPaymentForUpdate(ctx context.Context, paymentID string) (*models.PaymentRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM payments WHERE id = $1 AND plan_id = $2 FOR UPDATE", paymentColumns)
	var payment models.PaymentRecord
	if err := t.tx.GetContext(ctx, &payment, query, paymentID, t.plan.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock payment: %w", err)
	}
	return &payment, nil
}

func (t *planTx) Allocations(ctx context.Context, paymentID string) ([]models.PaymentAllocation, error) {
	query := fmt.Sprintf("SELECT %s FROM payment_allocations WHERE payment_id = $1 ORDER BY created_at", allocationColumns)
	var allocations []models.PaymentAllocation
	if err := t.tx.SelectContext(ctx, &allocations, query, paymentID); err != nil {
		return nil, fmt.Errorf("load payment allocations: %w", err)
	}
	return allocations, nil
}

// InsertPayment stores the payment and its allocations. Unique violations are mapped to the
// repository sentinels so callers can retry or report them.
func (t *planTx) InsertPayment(ctx context.Context, payment *models.PaymentRecord, allocations []models.PaymentAllocation) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	const paymentQuery = `INSERT INTO payments
	(id, plan_id, payer_id, enrollment_id, billing_period_id, installment_id, kind, amount, discount_amount, method, reference_number, proof_attachment, status, receipt_number, idempotency_key, recorded_by, reviewed_by, reviewed_at, note, created_at)
	VALUES (:id, :plan_id, :payer_id, :enrollment_id, :billing_period_id, :installment_id, :kind, :amount, :discount_amount, :method, :reference_number, :proof_attachment, :status, :receipt_number, :idempotency_key, :recorded_by, :reviewed_by, :reviewed_at, :note, :created_at)`
	if _, err := t.tx.NamedExecContext(ctx, paymentQuery, payment); err != nil {
		mapped := mapUniqueViolation(err)
		if mapped != err {
			return mapped
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	const allocationQuery = `INSERT INTO payment_allocations (id, payment_id, installment_id, amount, created_at)
	VALUES (:id, :payment_id, :installment_id, :amount, :created_at)`
	for i := range allocations {
		alloc := &allocations[i]
		if alloc.ID == "" {
			alloc.ID = uuid.NewString()
		}
		alloc.PaymentID = payment.ID
		alloc.CreatedAt = payment.CreatedAt
		if _, err := t.tx.NamedExecContext(ctx, allocationQuery, alloc); err != nil {
			return fmt.Errorf("insert payment allocation: %w", err)
		}
	}
	return nil
}

func (t *planTx) UpdatePaymentReview(ctx context.Context, params ReviewPaymentParams) error {
	const query = `UPDATE payments SET status = $1, reviewed_by = $2, reviewed_at = $3, note = COALESCE($4, note)
	WHERE id = $5 AND status = $6`
	result, err := t.tx.ExecContext(ctx, query, params.Status, params.ReviewedBy, params.ReviewedAt, params.Note, params.ID, models.PaymentStatusPending)
	if err != nil {
		return fmt.Errorf("update payment review: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("payment review rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SavePlan writes the mutable plan columns from the locked snapshot.
func (t *planTx) SavePlan(ctx context.Context) error {
	const query = `UPDATE payment_plans SET total_paid = :total_paid, status = :status, cancelled_at = :cancelled_at, updated_at = :updated_at
	WHERE id = :id`
	t.plan.UpdatedAt = time.Now().UTC()
	if _, err := t.tx.NamedExecContext(ctx, query, t.plan); err != nil {
		return fmt.Errorf("update payment plan: %w", err)
	}
	return nil
}

// SaveInstallments writes the mutable installment columns for the given rows.
func (t *planTx) SaveInstallments(ctx context.Context, installments []*models.Installment) error {
	const query = `UPDATE installments SET amount_due = :amount_due, amount_paid = :amount_paid, due_date = :due_date, paid_date = :paid_date,
	status = :status, late_fee = :late_fee, days_overdue = :days_overdue, updated_at = :updated_at
	WHERE id = :id AND plan_id = :plan_id`
	for _, inst := range installments {
		if _, err := t.tx.NamedExecContext(ctx, query, inst); err != nil {
			return fmt.Errorf("update installment %d: %w", inst.SequenceNumber, err)
		}
	}
	return nil
}
