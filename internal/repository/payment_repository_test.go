package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

var paymentRowColumns = []string{"id", "plan_id", "payer_id", "enrollment_id", "billing_period_id", "installment_id", "kind", "amount", "discount_amount", "method", "reference_number", "proof_attachment", "status", "receipt_number", "idempotency_key", "recorded_by", "reviewed_by", "reviewed_at", "note", "created_at"}

func TestPaymentRepositoryListByInstallment(t *testing.T) {
	db, mock, cleanup := newPlanRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(paymentRowColumns).
		AddRow("pay-2", "plan-1", "payer-1", "enr-1", "2025-1", "inst-1", "INSTALLMENT_PAYMENT", "1000", "0", "DIGITAL_WALLET", "TXN002", "proof-2", "PENDING", "RCPT-2", nil, "payer-1", nil, nil, nil, now).
		AddRow("pay-1", "plan-1", "payer-1", "enr-1", "2025-1", "inst-1", "INSTALLMENT_PAYMENT", "1000", "0", "DIGITAL_WALLET", "TXN001", "proof-1", "REJECTED", "RCPT-1", nil, "payer-1", "admin-1", now, "blurry", now.Add(-time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta("FROM payments WHERE installment_id = $1 AND status IN ($2,$3) ORDER BY created_at DESC LIMIT 100 OFFSET 0")).
		WithArgs("inst-1", models.PaymentStatusPending, models.PaymentStatusRejected).
		WillReturnRows(rows)

	payments, err := repo.List(context.Background(), models.PaymentFilter{
		InstallmentID: "inst-1",
		Status:        []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusRejected},
	})
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, "TXN002", payments[0].ReferenceNumber)
	require.NotNil(t, payments[1].Note)
	assert.Equal(t, "blurry", *payments[1].Note)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryReferenceExists(t *testing.T) {
	db, mock, cleanup := newPlanRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM payments WHERE receipt_number = $1 OR reference_number = $1)")).
		WithArgs("RCPT-20250701000000-0001").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ReferenceExists(context.Background(), "RCPT-20250701000000-0001")
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryFindByIdempotencyKeyMissing(t *testing.T) {
	db, mock, cleanup := newPlanRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM payments WHERE idempotency_key = $1")).
		WithArgs("key-1").
		WillReturnError(sql.ErrNoRows)

	payment, err := repo.FindByIdempotencyKey(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Nil(t, payment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMapUniqueViolation(t *testing.T) {
	cases := map[string]error{
		"payments_receipt_number_key":    ErrDuplicateReceipt,
		"payments_idempotency_key_key":   ErrDuplicateIdempotencyKey,
		"payment_plans_payer_period_key": ErrDuplicatePlan,
	}
	for constraint, expected := range cases {
		err := mapUniqueViolation(&pq.Error{Code: "23505", Constraint: constraint})
		assert.ErrorIs(t, err, expected, constraint)
	}

	other := &pq.Error{Code: "23514", Constraint: "installments_amount_paid_check"}
	assert.Equal(t, error(other), mapUniqueViolation(other))
}
