package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

var (
	planRowColumns        = []string{"id", "payer_id", "enrollment_id", "billing_period_id", "total_owed", "total_paid", "balance", "schedule_kind", "installment_count", "status", "start_date", "cancelled_at", "created_at", "updated_at"}
	installmentRowColumns = []string{"id", "plan_id", "sequence_number", "amount_due", "amount_paid", "balance", "due_date", "paid_date", "status", "late_fee", "days_overdue", "updated_at"}
)

func newPlanRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
	}
	return sqlxDB, mock, cleanup
}

func expectPlanLock(mock sqlmock.Sqlmock, planID string) {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM payment_plans WHERE id = $1 FOR UPDATE")).
		WithArgs(planID).
		WillReturnRows(sqlmock.NewRows(planRowColumns).
			AddRow(planID, "payer-1", "enr-1", "2025-1", "10000", "0", "10000", "QUARTERLY", 4, "ACTIVE", now, nil, now, now))
	rows := sqlmock.NewRows(installmentRowColumns)
	for i := 1; i <= 4; i++ {
		rows.AddRow(fmt.Sprintf("inst-%d", i), planID, i, "2500", "0", "2500", now.AddDate(0, 3*(i-1), 0), nil, "PENDING", "0", 0, now)
	}
	mock.ExpectQuery(regexp.QuoteMeta("FROM installments WHERE plan_id = $1 ORDER BY sequence_number FOR UPDATE")).
		WithArgs(planID).
		WillReturnRows(rows)
}

func TestPaymentPlanRepositoryCreateWithInstallments(t *testing.T) {
	db, mock, cleanup := newPlanRepoMock(t)
	defer cleanup()
	repo := NewPaymentPlanRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payment_plans")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO installments")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO installments")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	plan := &models.PaymentPlan{
		PayerID:         "payer-1",
		EnrollmentID:    "enr-1",
		BillingPeriodID: "2025-1",
		TotalOwed:       decimal.NewFromInt(5000),
		ScheduleKind:    models.ScheduleSemiAnnual,
		StartDate:       time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	installments := []models.Installment{
		{SequenceNumber: 1, AmountDue: decimal.NewFromInt(2500), Status: models.InstallmentStatusPending},
		{SequenceNumber: 2, AmountDue: decimal.NewFromInt(2500), Status: models.InstallmentStatusPending},
	}
	require.NoError(t, repo.CreateWithInstallments(context.Background(), plan, installments))
	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, 2, plan.InstallmentCount)
	assert.Equal(t, models.PlanStatusActive, plan.Status)
	assert.True(t, plan.Balance.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, plan.ID, installments[1].PlanID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentPlanRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newPlanRepoMock(t)
	defer cleanup()
	repo := NewPaymentPlanRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payment_plans")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "payment_plans_payer_period_key"})
	mock.ExpectRollback()

	err := repo.CreateWithInstallments(context.Background(), &models.PaymentPlan{PayerID: "payer-1", BillingPeriodID: "2025-1"}, nil)
	require.ErrorIs(t, err, ErrDuplicatePlan)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentPlanRepositoryListPaginates(t *testing.T) {
	db, mock, cleanup := newPlanRepoMock(t)
	defer cleanup()
	repo := NewPaymentPlanRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM payment_plans WHERE 1=1 AND payer_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT 10 OFFSET 10")).
		WithArgs("payer-1", models.PlanStatusActive).
		WillReturnRows(sqlmock.NewRows(planRowColumns).
			AddRow("plan-1", "payer-1", "enr-1", "2025-1", "10000", "2500", "7500", "QUARTERLY", 4, "ACTIVE", now, nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM payment_plans WHERE 1=1 AND payer_id = $1 AND status = $2")).
		WithArgs("payer-1", models.PlanStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	plans, total, err := repo.List(context.Background(), models.PaymentPlanFilter{
		PayerID:  "payer-1",
		Status:   models.PlanStatusActive,
		Page:     2,
		PageSize: 10,
	})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, 11, total)
	assert.True(t, plans[0].Balance.Equal(decimal.NewFromInt(7500)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentPlanRepositoryWithPlanLockCommits(t *testing.T) {
	db, mock, cleanup := newPlanRepoMock(t)
	defer cleanup()
	repo := NewPaymentPlanRepository(db)

	expectPlanLock(mock, "plan-1")
	mock.ExpectQuery(regexp.QuoteMeta("FROM payments WHERE plan_id = $1 AND installment_id = $2 AND status <> $3")).
		WithArgs("plan-1", "inst-1", models.PaymentStatusRejected).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payment_allocations")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE installments SET amount_due")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payment_plans SET total_paid")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	installmentID := "inst-1"
	err := repo.WithPlanLock(context.Background(), "plan-1", func(tx PlanTx) error {
		require.Len(t, tx.Installments(), 4)
		assert.True(t, tx.Plan().Balance.Equal(decimal.NewFromInt(10000)))

		prior, err := tx.LatestActivePayment(context.Background(), &installmentID)
		require.NoError(t, err)
		assert.Nil(t, prior)

		payment := &models.PaymentRecord{
			PlanID:          "plan-1",
			InstallmentID:   &installmentID,
			Kind:            models.PaymentKindInstallment,
			Amount:          decimal.NewFromInt(2500),
			Method:          models.PaymentMethodCash,
			ReferenceNumber: "CASH-20250701000000-0001",
			Status:          models.PaymentStatusApproved,
			ReceiptNumber:   "RCPT-20250701000000-0001",
		}
		allocations := []models.PaymentAllocation{{InstallmentID: installmentID, Amount: decimal.NewFromInt(2500)}}
		if err := tx.InsertPayment(context.Background(), payment, allocations); err != nil {
			return err
		}
		assert.Equal(t, payment.ID, allocations[0].PaymentID)

		inst := tx.Installments()[0]
		inst.AmountPaid = decimal.NewFromInt(2500)
		inst.Status = models.InstallmentStatusPaid
		if err := tx.SaveInstallments(context.Background(), []*models.Installment{inst}); err != nil {
			return err
		}
		tx.Plan().TotalPaid = decimal.NewFromInt(2500)
		return tx.SavePlan(context.Background())
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentPlanRepositoryWithPlanLockMapsReceiptCollision(t *testing.T) {
	db, mock, cleanup := newPlanRepoMock(t)
	defer cleanup()
	repo := NewPaymentPlanRepository(db)

	expectPlanLock(mock, "plan-1")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "payments_receipt_number_key"})
	mock.ExpectRollback()

	err := repo.WithPlanLock(context.Background(), "plan-1", func(tx PlanTx) error {
		return tx.InsertPayment(context.Background(), &models.PaymentRecord{PlanID: "plan-1", ReceiptNumber: "RCPT-1"}, nil)
	})
	require.ErrorIs(t, err, ErrDuplicateReceipt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentPlanRepositoryWithPlanLockMissingPlan(t *testing.T) {
	db, mock, cleanup := newPlanRepoMock(t)
	defer cleanup()
	repo := NewPaymentPlanRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM payment_plans WHERE id = $1 FOR UPDATE")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	called := false
	err := repo.WithPlanLock(context.Background(), "missing", func(tx PlanTx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.False(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentPlanRepositoryReviewRequiresPending(t *testing.T) {
	db, mock, cleanup := newPlanRepoMock(t)
	defer cleanup()
	repo := NewPaymentPlanRepository(db)

	expectPlanLock(mock, "plan-1")
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET status = $1")).
		WithArgs(models.PaymentStatusApproved, "admin-1", sqlmock.AnyArg(), nil, "pay-1", models.PaymentStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.WithPlanLock(context.Background(), "plan-1", func(tx PlanTx) error {
		return tx.UpdatePaymentReview(context.Background(), ReviewPaymentParams{
			ID:         "pay-1",
			Status:     models.PaymentStatusApproved,
			ReviewedBy: "admin-1",
			ReviewedAt: time.Now().UTC(),
		})
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
