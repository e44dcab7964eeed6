package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-tuition-api/internal/dto"
	"github.com/noah-isme/sma-tuition-api/internal/models"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
	"github.com/noah-isme/sma-tuition-api/pkg/export"
	"github.com/noah-isme/sma-tuition-api/pkg/jobs"
	"github.com/noah-isme/sma-tuition-api/pkg/storage"
)

// ReceiptJobType tags receipt rendering jobs on the queue.
const ReceiptJobType = "receipt"

// HistoryFormat selects the payment history export encoding.
type HistoryFormat string

const (
	HistoryFormatCSV HistoryFormat = "csv"
	HistoryFormatPDF HistoryFormat = "pdf"
)

type receiptPaymentReader interface {
	GetByID(ctx context.Context, id string) (*models.PaymentRecord, error)
	List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRecord, error)
}

type receiptPlanReader interface {
	GetByID(ctx context.Context, id string) (*models.PaymentPlan, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Exists(filename string) (bool, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
	RenderReceipt(doc export.ReceiptDocument) ([]byte, error)
}

// ReceiptConfig tunes receipt rendering and download links.
type ReceiptConfig struct {
	APIPrefix   string
	Institution string
	Footer      string
}

// HistoryExport is a rendered payment history document.
type HistoryExport struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ReceiptService renders receipts for approved payments and serves them through signed links.
type ReceiptService struct {
	payments receiptPaymentReader
	plans    receiptPlanReader
	storage  fileStorage
	csv      csvRenderer
	pdf      pdfRenderer
	signer   *storage.SignedURLSigner
	queue    *jobs.Queue
	logger   *zap.Logger
	cfg      ReceiptConfig
}

// NewReceiptService constructs a ReceiptService. Nil renderers fall back to the defaults.
func NewReceiptService(payments receiptPaymentReader, plans receiptPlanReader, store fileStorage, signer *storage.SignedURLSigner, cfg ReceiptConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ReceiptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	if cfg.Institution == "" {
		cfg.Institution = "Tuition Office"
	}
	return &ReceiptService{
		payments: payments,
		plans:    plans,
		storage:  store,
		csv:      csv,
		pdf:      pdf,
		signer:   signer,
		logger:   logger,
		cfg:      cfg,
	}
}

// AttachQueue routes Schedule through a background queue. Without a queue receipts render inline.
func (s *ReceiptService) AttachQueue(queue *jobs.Queue) {
	s.queue = queue
}

// Schedule requests rendering of the receipt for an approved payment.
func (s *ReceiptService) Schedule(ctx context.Context, payment models.PaymentRecord) error {
	if payment.Status != models.PaymentStatusApproved {
		return nil
	}
	if s.queue == nil {
		_, err := s.Render(ctx, payment)
		return err
	}
	return s.queue.Enqueue(jobs.Job{ID: payment.ReceiptNumber, Type: ReceiptJobType, Payload: payment})
}

// Handle is the queue handler for receipt jobs.
func (s *ReceiptService) Handle(ctx context.Context, job jobs.Job) error {
	if job.Type != ReceiptJobType {
		return fmt.Errorf("unexpected job type %q", job.Type)
	}
	var payment models.PaymentRecord
	switch payload := job.Payload.(type) {
	case models.PaymentRecord:
		payment = payload
	case *models.PaymentRecord:
		if payload == nil {
			return fmt.Errorf("receipt job %s has no payment", job.ID)
		}
		payment = *payload
	default:
		return fmt.Errorf("receipt job %s has unsupported payload %T", job.ID, job.Payload)
	}
	relPath, err := s.Render(ctx, payment)
	if err != nil {
		return err
	}
	s.logger.Info("receipt rendered",
		zap.String("receipt_number", payment.ReceiptNumber),
		zap.String("payment_id", payment.ID),
		zap.String("path", relPath),
		zap.Int("attempt", job.Attempt),
	)
	return nil
}

// Render writes the receipt PDF to storage and returns its relative path.
func (s *ReceiptService) Render(ctx context.Context, payment models.PaymentRecord) (string, error) {
	if payment.ReceiptNumber == "" {
		return "", fmt.Errorf("payment %s has no receipt number", payment.ID)
	}
	doc := export.ReceiptDocument{
		Title:    s.cfg.Institution + " Payment Receipt",
		Number:   payment.ReceiptNumber,
		IssuedAt: payment.CreatedAt,
		Footer:   s.cfg.Footer,
		Lines: []export.ReceiptLine{
			{Label: "Payment ID", Value: payment.ID},
			{Label: "Payer", Value: payment.PayerID},
			{Label: "Billing period", Value: payment.BillingPeriodID},
			{Label: "Kind", Value: string(payment.Kind)},
			{Label: "Method", Value: string(payment.Method)},
			{Label: "Reference", Value: payment.ReferenceNumber},
			{Label: "Amount", Value: payment.Amount.StringFixed(2)},
		},
	}
	if !payment.DiscountAmount.IsZero() {
		doc.Lines = append(doc.Lines, export.ReceiptLine{Label: "Discount", Value: payment.DiscountAmount.StringFixed(2)})
	}
	if plan, err := s.plans.GetByID(ctx, payment.PlanID); err == nil {
		plan.Derive()
		doc.Lines = append(doc.Lines, export.ReceiptLine{Label: "Remaining balance", Value: plan.Balance.StringFixed(2)})
	} else {
		s.logger.Warn("receipt rendered without plan balance", zap.String("plan_id", payment.PlanID), zap.Error(err))
	}
	if payment.ReviewedAt != nil {
		doc.Lines = append(doc.Lines, export.ReceiptLine{Label: "Approved at", Value: payment.ReviewedAt.UTC().Format(time.RFC3339)})
	}

	data, err := s.pdf.RenderReceipt(doc)
	if err != nil {
		return "", err
	}
	return s.storage.Save(receiptPath(payment.ReceiptNumber), data)
}

// ReceiptLink returns a signed download link for an approved payment's receipt, rendering
// the document first when the worker has not produced it yet.
func (s *ReceiptService) ReceiptLink(ctx context.Context, paymentID string, actor *models.JWTClaims) (*dto.ReceiptLinkResponse, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if err := authorizePayer(actor, payment.PayerID); err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrConflict, "receipt is available once the payment is approved")
	}

	relPath := receiptPath(payment.ReceiptNumber)
	exists, err := s.storage.Exists(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check receipt")
	}
	if !exists {
		if relPath, err = s.Render(ctx, *payment); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render receipt")
		}
	}

	token, expiresAt, err := s.signer.Generate(payment.ReceiptNumber, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign receipt link")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return &dto.ReceiptLinkResponse{
		ReceiptNumber: payment.ReceiptNumber,
		URL:           fmt.Sprintf("%s/receipts/download?token=%s", prefix, token),
		ExpiresAt:     expiresAt,
	}, nil
}

// ResolveDownload validates a signed token and opens the referenced receipt.
func (s *ReceiptService) ResolveDownload(token string) (*os.File, string, error) {
	receiptNumber, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid or expired download link")
	}
	if relPath != receiptPath(receiptNumber) {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "receipt not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open receipt")
	}
	return file, path.Base(relPath), nil
}

// ExportHistory renders a plan's payment history as CSV or PDF.
func (s *ReceiptService) ExportHistory(ctx context.Context, planID string, format HistoryFormat, actor *models.JWTClaims) (*HistoryExport, error) {
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment plan")
	}
	if err := authorizePlanAccess(actor, plan); err != nil {
		return nil, err
	}
	payments, err := s.payments.List(ctx, models.PaymentFilter{PlanID: planID, Limit: 500})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}

	data := export.Dataset{Headers: []string{"Date", "Receipt", "Kind", "Method", "Reference", "Amount", "Discount", "Status"}}
	for _, p := range payments {
		data.Append(
			p.CreatedAt.UTC().Format("2006-01-02"),
			p.ReceiptNumber,
			string(p.Kind),
			string(p.Method),
			p.ReferenceNumber,
			p.Amount.StringFixed(2),
			p.DiscountAmount.StringFixed(2),
			string(p.Status),
		)
	}

	base := sanitizeFilename(fmt.Sprintf("payments-%s", plan.ID))
	switch HistoryFormat(strings.ToLower(string(format))) {
	case HistoryFormatCSV, "":
		out, err := s.csv.Render(data)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render payment history")
		}
		return &HistoryExport{Filename: base + ".csv", ContentType: "text/csv", Data: out}, nil
	case HistoryFormatPDF:
		out, err := s.pdf.Render(data, fmt.Sprintf("Payment history %s", plan.BillingPeriodID))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render payment history")
		}
		return &HistoryExport{Filename: base + ".pdf", ContentType: "application/pdf", Data: out}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

func receiptPath(receiptNumber string) string {
	return path.Join("receipts", sanitizeFilename(receiptNumber)+".pdf")
}

func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}
