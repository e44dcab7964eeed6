package service

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-tuition-api/internal/models"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
	"github.com/noah-isme/sma-tuition-api/pkg/jobs"
	"github.com/noah-isme/sma-tuition-api/pkg/storage"
)

type receiptFixture struct {
	store   *memTuitionStore
	dir     string
	local   *storage.LocalStorage
	service *ReceiptService
}

func newReceiptFixture(t *testing.T) *receiptFixture {
	t.Helper()
	store := newMemTuitionStore()
	store.seedPlan("plan-1", "payer-1", 2500, 2500)
	dir := t.TempDir()
	local, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	svc := NewReceiptService(memPayments{store}, store, local, storage.NewSignedURLSigner("secret", time.Hour),
		ReceiptConfig{APIPrefix: "/api/v1/", Institution: "SMA Negeri 1"}, nil, nil, nil)
	return &receiptFixture{store: store, dir: dir, local: local, service: svc}
}

func (f *receiptFixture) addPayment(id, receipt string, status models.PaymentStatus) models.PaymentRecord {
	payment := models.PaymentRecord{
		ID:              id,
		PlanID:          "plan-1",
		PayerID:         "payer-1",
		BillingPeriodID: "2025-2026",
		InstallmentID:   strPtr("plan-1-inst-1"),
		Kind:            models.PaymentKindInstallment,
		Method:          models.PaymentMethodCash,
		Amount:          dec(2500),
		ReferenceNumber: "CASH-" + id,
		ReceiptNumber:   receipt,
		Status:          status,
		CreatedAt:       time.Date(2025, 7, 2, 8, 0, 0, 0, time.UTC),
	}
	f.store.mu.Lock()
	f.store.payments = append(f.store.payments, payment)
	f.store.mu.Unlock()
	return payment
}

func TestReceiptScheduleRendersInlineWithoutQueue(t *testing.T) {
	f := newReceiptFixture(t)
	approved := f.addPayment("pay-1", "RCPT-20250702080000-0001", models.PaymentStatusApproved)
	pending := f.addPayment("pay-2", "RCPT-20250702080000-0002", models.PaymentStatusPending)

	require.NoError(t, f.service.Schedule(context.Background(), approved))
	require.NoError(t, f.service.Schedule(context.Background(), pending))

	data, err := os.ReadFile(filepath.Join(f.dir, "receipts", "RCPT-20250702080000-0001.pdf"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))

	exists, err := f.local.Exists("receipts/RCPT-20250702080000-0002.pdf")
	require.NoError(t, err)
	assert.False(t, exists, "pending payments have no receipt")
}

func TestReceiptHandleProcessesQueuedJobs(t *testing.T) {
	f := newReceiptFixture(t)
	approved := f.addPayment("pay-1", "RCPT-20250702080000-0001", models.PaymentStatusApproved)

	require.NoError(t, f.service.Handle(context.Background(), jobs.Job{ID: approved.ReceiptNumber, Type: ReceiptJobType, Payload: &approved}))
	exists, err := f.local.Exists(receiptPath(approved.ReceiptNumber))
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Error(t, f.service.Handle(context.Background(), jobs.Job{ID: "x", Type: "report"}))
	assert.Error(t, f.service.Handle(context.Background(), jobs.Job{ID: "x", Type: ReceiptJobType, Payload: "nope"}))
}

func TestReceiptLinkAndDownload(t *testing.T) {
	f := newReceiptFixture(t)
	approved := f.addPayment("pay-1", "RCPT-20250702080000-0001", models.PaymentStatusApproved)
	f.addPayment("pay-2", "RCPT-20250702080000-0002", models.PaymentStatusPending)
	ctx := context.Background()

	link, err := f.service.ReceiptLink(ctx, approved.ID, payerActor("payer-1"))
	require.NoError(t, err, "missing receipts are rendered on demand")
	assert.Equal(t, approved.ReceiptNumber, link.ReceiptNumber)
	assert.True(t, strings.HasPrefix(link.URL, "/api/v1/receipts/download?token="))
	assert.WithinDuration(t, time.Now().Add(time.Hour), link.ExpiresAt, time.Minute)

	parsed, err := url.Parse(link.URL)
	require.NoError(t, err)
	file, name, err := f.service.ResolveDownload(parsed.Query().Get("token"))
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, "RCPT-20250702080000-0001.pdf", name)
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))

	_, err = f.service.ReceiptLink(ctx, approved.ID, payerActor("payer-2"))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.service.ReceiptLink(ctx, "pay-2", staffActor())
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = f.service.ReceiptLink(ctx, "missing", staffActor())
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestResolveDownloadRejectsBadTokens(t *testing.T) {
	f := newReceiptFixture(t)
	signer := storage.NewSignedURLSigner("secret", time.Hour)

	_, _, err := f.service.ResolveDownload("garbage")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	token, _, err := signer.Generate("RCPT-1", "receipts/other.pdf")
	require.NoError(t, err)
	_, _, err = f.service.ResolveDownload(token)
	assert.ErrorIs(t, err, appErrors.ErrForbidden, "token path must match the receipt number")

	token, _, err = signer.Generate("RCPT-404", "receipts/RCPT-404.pdf")
	require.NoError(t, err)
	_, _, err = f.service.ResolveDownload(token)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	forged, _, err := storage.NewSignedURLSigner("other", time.Hour).Generate("RCPT-404", "receipts/RCPT-404.pdf")
	require.NoError(t, err)
	_, _, err = f.service.ResolveDownload(forged)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestExportHistory(t *testing.T) {
	f := newReceiptFixture(t)
	f.addPayment("pay-1", "RCPT-20250702080000-0001", models.PaymentStatusApproved)
	f.addPayment("pay-2", "RCPT-20250702080000-0002", models.PaymentStatusRejected)
	ctx := context.Background()

	csvExport, err := f.service.ExportHistory(ctx, "plan-1", HistoryFormatCSV, payerActor("payer-1"))
	require.NoError(t, err)
	assert.Equal(t, "payments-plan-1.csv", csvExport.Filename)
	assert.Equal(t, "text/csv", csvExport.ContentType)
	lines := strings.Split(strings.TrimSpace(string(csvExport.Data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Date,Receipt,Kind,Method,Reference,Amount,Discount,Status", lines[0])
	assert.Contains(t, lines[1], "RCPT-20250702080000-0001")
	assert.Contains(t, lines[2], "REJECTED")

	pdfExport, err := f.service.ExportHistory(ctx, "plan-1", "PDF", staffActor())
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdfExport.ContentType)
	assert.True(t, bytes.HasPrefix(pdfExport.Data, []byte("%PDF")))

	_, err = f.service.ExportHistory(ctx, "plan-1", "xlsx", staffActor())
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.service.ExportHistory(ctx, "plan-1", HistoryFormatCSV, payerActor("payer-2"))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.service.ExportHistory(ctx, "missing", HistoryFormatCSV, staffActor())
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
