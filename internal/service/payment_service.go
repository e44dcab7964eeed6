package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tuition-api/internal/dto"
	"github.com/noah-isme/sma-tuition-api/internal/models"
	"github.com/noah-isme/sma-tuition-api/internal/repository"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
	applog "github.com/noah-isme/sma-tuition-api/pkg/logger"
)

// Admission path labels used in logs and metrics.
const (
	AdmissionPathSelfService = "self_service"
	AdmissionPathCounter     = "counter"
)

type paymentStore interface {
	GetByID(ctx context.Context, id string) (*models.PaymentRecord, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.PaymentRecord, error)
	List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRecord, error)
}

type planLocker interface {
	GetByID(ctx context.Context, id string) (*models.PaymentPlan, error)
	GetInstallment(ctx context.Context, id string) (*models.Installment, error)
	WithPlanLock(ctx context.Context, planID string, fn func(tx repository.PlanTx) error) error
}

type referenceAllocator interface {
	Allocate(ctx context.Context, prefix string) string
}

type receiptScheduler interface {
	Schedule(ctx context.Context, payment models.PaymentRecord) error
}

// PaymentServiceConfig carries the payment policy constants.
type PaymentServiceConfig struct {
	ReceiptPrefix       string
	CashReferencePrefix string
	AdmissionRetryLimit int
}

// PaymentService admits payments through the guard and applies them to the ledger while
// holding the plan lock.
type PaymentService struct {
	plans     planLocker
	payments  paymentStore
	allocator referenceAllocator
	guard     *AdmissionGuard
	ledger    *BalanceLedger
	receipts  receiptScheduler
	cache     summaryCache
	audit     auditLogger
	metrics   *MetricsService
	validator *validator.Validate
	cfg       PaymentServiceConfig
	logger    *zap.Logger
	now       func() time.Time
}

// PaymentServiceOption customises the service.
type PaymentServiceOption func(*PaymentService)

// WithPaymentReceipts schedules receipt rendering for approved payments.
func WithPaymentReceipts(receipts receiptScheduler) PaymentServiceOption {
	return func(s *PaymentService) {
		s.receipts = receipts
	}
}

// WithPaymentCache invalidates plan summaries after ledger writes.
func WithPaymentCache(cache summaryCache) PaymentServiceOption {
	return func(s *PaymentService) {
		s.cache = cache
	}
}

// WithPaymentMetrics records admission outcomes.
func WithPaymentMetrics(metrics *MetricsService) PaymentServiceOption {
	return func(s *PaymentService) {
		s.metrics = metrics
	}
}

// WithPaymentClock overrides the time source.
func WithPaymentClock(now func() time.Time) PaymentServiceOption {
	return func(s *PaymentService) {
		if now != nil {
			s.now = now
			s.ledger.now = now
		}
	}
}

// NewPaymentService constructs the payment service.
func NewPaymentService(plans planLocker, payments paymentStore, allocator referenceAllocator, audit auditLogger, cfg PaymentServiceConfig, logger *zap.Logger, opts ...PaymentServiceOption) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReceiptPrefix == "" {
		cfg.ReceiptPrefix = "RCPT"
	}
	if cfg.CashReferencePrefix == "" {
		cfg.CashReferencePrefix = "CASH"
	}
	if cfg.AdmissionRetryLimit <= 0 {
		cfg.AdmissionRetryLimit = 3
	}
	svc := &PaymentService{
		plans:     plans,
		payments:  payments,
		allocator: allocator,
		guard:     NewAdmissionGuard(),
		ledger:    NewBalanceLedger(),
		audit:     audit,
		validator: validator.New(),
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// SubmitPayment records a self-service payment as Pending. The credit is applied to the
// ledger immediately and released again if review rejects the payment.
func (s *PaymentService) SubmitPayment(ctx context.Context, req dto.PaymentRequest, actor *models.JWTClaims) (*models.PaymentRecord, error) {
	return s.admit(ctx, req, actor, AdmissionPathSelfService)
}

// RecordCounterPayment records a payment taken by staff as Approved. At most one
// non-rejected payment may exist per installment on this path.
func (s *PaymentService) RecordCounterPayment(ctx context.Context, req dto.PaymentRequest, actor *models.JWTClaims) (*models.PaymentRecord, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.IsStaff() {
		return nil, appErrors.ErrForbidden
	}
	return s.admit(ctx, req, actor, AdmissionPathCounter)
}

func (s *PaymentService) admit(ctx context.Context, req dto.PaymentRequest, actor *models.JWTClaims, path string) (*models.PaymentRecord, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	req, err := s.normalise(req)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.replay(ctx, req)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if err := authorizePayer(actor, existing.PayerID); err != nil {
				return nil, err
			}
			return existing, nil
		}
	}

	plan, err := s.plans.GetByID(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment plan")
	}
	if err := authorizePlanAccess(actor, plan); err != nil {
		return nil, err
	}

	reference := strings.TrimSpace(req.ReferenceNumber)
	if req.Method == models.PaymentMethodCash {
		reference = s.allocator.Allocate(ctx, s.cfg.CashReferencePrefix)
	}

	var (
		record *models.PaymentRecord
		credit decimal.Decimal
	)
	for attempt := 1; ; attempt++ {
		record, credit, err = s.admitOnce(ctx, req, reference, actor, path)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrDuplicateReceipt) && attempt < s.cfg.AdmissionRetryLimit {
			applog.FromContext(ctx, s.logger).Warn("receipt number collided, retrying admission",
				zap.String("plan_id", req.PlanID), zap.Int("attempt", attempt))
			continue
		}
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			// a concurrent request with the same key won the insert
			return s.replayAfterRace(ctx, req)
		}
		return nil, s.admissionError(ctx, req, actor, path, err)
	}

	s.metrics.RecordAdmission(path, AdmissionOutcomeAccepted, "")
	if !credit.IsZero() {
		s.metrics.RecordLedgerCredit(string(record.Method), credit.InexactFloat64())
	}
	s.invalidateSummary(ctx, record.PlanID)
	applog.FromContext(ctx, s.logger).Info("payment admitted",
		zap.String("payment_id", record.ID),
		zap.String("plan_id", record.PlanID),
		zap.String("path", path),
		zap.String("method", string(record.Method)),
		zap.String("amount", record.Amount.String()),
		zap.String("status", string(record.Status)),
	)
	action := models.AuditActionPaymentSubmit
	if path == AdmissionPathCounter {
		action = models.AuditActionPaymentCounter
	}
	emitAudit(ctx, s.audit, s.logger, "payment-service", actor, action, "payment", record.ID, nil, record)
	if record.Status == models.PaymentStatusApproved {
		s.scheduleReceipt(ctx, record)
	}
	return record, nil
}

// admitOnce runs the guard and the ledger inside one plan lock. The returned credit is
// zero for payments that bypass the ledger.
func (s *PaymentService) admitOnce(ctx context.Context, req dto.PaymentRequest, reference string, actor *models.JWTClaims, path string) (*models.PaymentRecord, decimal.Decimal, error) {
	receipt := s.allocator.Allocate(ctx, s.cfg.ReceiptPrefix)
	var (
		record *models.PaymentRecord
		credit decimal.Decimal
	)
	err := s.plans.WithPlanLock(ctx, req.PlanID, func(tx repository.PlanTx) error {
		plan := tx.Plan()
		plan.Derive()
		installments := tx.Installments()

		var inst *models.Installment
		if req.InstallmentID != nil {
			inst = findInstallment(installments, *req.InstallmentID)
			if inst != nil {
				inst.Derive()
			}
		}

		discount, err := ComputeDiscount(req.Discount, plan.Balance)
		if err != nil {
			return err
		}
		attempt := AdmissionAttempt{
			Kind:            req.Kind,
			InstallmentID:   req.InstallmentID,
			Amount:          req.Amount,
			Discount:        discount,
			Method:          req.Method,
			ReferenceNumber: reference,
			ProofAttachment: req.ProofAttachment,
		}
		state := AdmissionState{Plan: plan, Installment: inst}
		if req.Kind != models.PaymentKindOtherFee {
			prior, err := tx.LatestActivePayment(ctx, req.InstallmentID)
			if err != nil {
				return err
			}
			state.LatestPrior = prior
		}

		var decision AdmissionDecision
		if path == AdmissionPathCounter {
			if inst != nil {
				count, err := tx.CountActivePayments(ctx, inst.ID)
				if err != nil {
					return err
				}
				state.ActivePayments = count
			}
			decision = s.guard.AdmitDirect(attempt, state)
		} else {
			decision = s.guard.Admit(attempt, state)
		}
		if !decision.Accepted {
			return decision.Err()
		}

		now := s.now()
		record = &models.PaymentRecord{
			PlanID:          plan.ID,
			PayerID:         plan.PayerID,
			EnrollmentID:    plan.EnrollmentID,
			BillingPeriodID: plan.BillingPeriodID,
			InstallmentID:   req.InstallmentID,
			Kind:            req.Kind,
			Amount:          req.Amount,
			DiscountAmount:  discount,
			Method:          req.Method,
			ReferenceNumber: reference,
			ProofAttachment: req.ProofAttachment,
			Status:          models.PaymentStatusPending,
			ReceiptNumber:   receipt,
			RecordedBy:      actor.UserID,
			Note:            optionalNote(req.Note),
			CreatedAt:       now,
		}
		if req.IdempotencyKey != "" {
			key := req.IdempotencyKey
			record.IdempotencyKey = &key
		}
		if path == AdmissionPathCounter {
			reviewer := actor.UserID
			record.Status = models.PaymentStatusApproved
			record.ReviewedBy = &reviewer
			record.ReviewedAt = &now
		}

		if req.Kind == models.PaymentKindOtherFee {
			return tx.InsertPayment(ctx, record, nil)
		}
		result, err := s.ledger.ApplyPayment(plan, installments, req.InstallmentID, attempt.Credit())
		if err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, record, result.Allocations); err != nil {
			return err
		}
		if err := tx.SaveInstallments(ctx, result.Touched); err != nil {
			return err
		}
		if err := tx.SavePlan(ctx); err != nil {
			return err
		}
		credit = attempt.Credit()
		return nil
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	return record, credit, nil
}

// admissionError maps lock and storage failures and records rejected attempts.
func (s *PaymentService) admissionError(ctx context.Context, req dto.PaymentRequest, actor *models.JWTClaims, path string, err error) error {
	if errors.Is(err, repository.ErrDuplicateReceipt) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate a unique receipt number")
	}
	mapped := planLockError(err, "failed to record payment")
	var appErr *appErrors.Error
	if !errors.As(mapped, &appErr) || appErr.Code == appErrors.ErrInternal.Code || appErr.Code == appErrors.ErrNotFound.Code {
		return mapped
	}
	s.metrics.RecordAdmission(path, AdmissionOutcomeRejected, appErr.Code)
	applog.FromContext(ctx, s.logger).Info("payment rejected",
		zap.String("plan_id", req.PlanID),
		zap.String("path", path),
		zap.String("reason", appErr.Code),
	)
	emitAudit(ctx, s.audit, s.logger, "payment-service", actor, models.AuditActionPaymentRejection, "payment_plan", req.PlanID, nil, map[string]interface{}{
		"reason":           appErr.Code,
		"kind":             req.Kind,
		"method":           req.Method,
		"amount":           req.Amount,
		"installment_id":   req.InstallmentID,
		"reference_number": req.ReferenceNumber,
	})
	return mapped
}

func (s *PaymentService) replayAfterRace(ctx context.Context, req dto.PaymentRequest) (*models.PaymentRecord, error) {
	existing, err := s.replay(ctx, req)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "idempotency key already used")
	}
	return existing, nil
}

// replay returns the stored payment for a repeated idempotency key.
func (s *PaymentService) replay(ctx context.Context, req dto.PaymentRequest) (*models.PaymentRecord, error) {
	existing, err := s.payments.FindByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check idempotency key")
	}
	if existing == nil {
		return nil, nil
	}
	if existing.PlanID != req.PlanID {
		return nil, appErrors.Clone(appErrors.ErrConflict, "idempotency key already used for another payment plan")
	}
	return existing, nil
}

func (s *PaymentService) normalise(req dto.PaymentRequest) (dto.PaymentRequest, error) {
	req.Kind = models.PaymentKind(strings.ToUpper(strings.TrimSpace(string(req.Kind))))
	req.Method = models.PaymentMethod(strings.ToUpper(strings.TrimSpace(string(req.Method))))
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.InstallmentID != nil && strings.TrimSpace(*req.InstallmentID) == "" {
		req.InstallmentID = nil
	}
	if err := s.validator.Struct(req); err != nil {
		return req, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if !req.Method.Valid() {
		return req, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported payment method %q", req.Method))
	}
	switch req.Kind {
	case models.PaymentKindInstallment:
		if req.InstallmentID == nil {
			return req, appErrors.Clone(appErrors.ErrValidation, "installment_id is required for installment payments")
		}
	default:
		if req.InstallmentID != nil {
			return req, appErrors.Clone(appErrors.ErrValidation, "installment_id is only accepted for installment payments")
		}
	}
	if req.Discount != nil && req.Kind != models.PaymentKindFullTuition {
		return req, appErrors.Clone(appErrors.ErrValidation, "discounts apply to full tuition payments only")
	}
	return req, nil
}

// ReviewPayment records the approval collaborator's decision on a Pending payment.
// Rejection releases the credit applied at submission in the same transaction.
func (s *PaymentService) ReviewPayment(ctx context.Context, id string, req dto.ReviewPaymentRequest, actor *models.JWTClaims) (*models.PaymentRecord, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleSuperAdmin {
		return nil, appErrors.ErrForbidden
	}
	req.Status = models.PaymentStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	payment, err := s.payments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}

	var reviewed models.PaymentRecord
	err = s.plans.WithPlanLock(ctx, payment.PlanID, func(tx repository.PlanTx) error {
		current, err := tx.GetPaymentForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "payment not found")
			}
			return err
		}
		if current.Status != models.PaymentStatusPending {
			return appErrors.Clone(appErrors.ErrConflict, "payment already reviewed")
		}
		if req.Status == models.PaymentStatusRejected && current.Kind != models.PaymentKindOtherFee {
			allocations, err := tx.Allocations(ctx, current.ID)
			if err != nil {
				return err
			}
			result, err := s.ledger.Release(tx.Plan(), tx.Installments(), allocations)
			if err != nil {
				return err
			}
			if err := tx.SaveInstallments(ctx, result.Touched); err != nil {
				return err
			}
			if err := tx.SavePlan(ctx); err != nil {
				return err
			}
		}
		now := s.now()
		note := optionalNote(req.Note)
		if err := tx.UpdatePaymentReview(ctx, repository.ReviewPaymentParams{
			ID:         current.ID,
			Status:     req.Status,
			ReviewedBy: actor.UserID,
			ReviewedAt: now,
			Note:       note,
		}); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrConflict, "payment already reviewed")
			}
			return err
		}
		reviewerID := actor.UserID
		current.Status = req.Status
		current.ReviewedBy = &reviewerID
		current.ReviewedAt = &now
		if note != nil {
			current.Note = note
		}
		reviewed = *current
		return nil
	})
	if err != nil {
		return nil, planLockError(err, "failed to review payment")
	}

	s.invalidateSummary(ctx, reviewed.PlanID)
	applog.FromContext(ctx, s.logger).Info("payment reviewed",
		zap.String("payment_id", reviewed.ID),
		zap.String("status", string(reviewed.Status)),
	)
	emitAudit(ctx, s.audit, s.logger, "payment-service", actor, models.AuditActionPaymentReview, "payment", reviewed.ID, payment, reviewed)
	if reviewed.Status == models.PaymentStatusApproved {
		s.scheduleReceipt(ctx, &reviewed)
	}
	return &reviewed, nil
}

// GetPayment returns a payment the actor may see.
func (s *PaymentService) GetPayment(ctx context.Context, id string, actor *models.JWTClaims) (*models.PaymentRecord, error) {
	payment, err := s.payments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if err := authorizePayer(actor, payment.PayerID); err != nil {
		return nil, err
	}
	return payment, nil
}

// ListPlanPayments returns payment history for a plan.
func (s *PaymentService) ListPlanPayments(ctx context.Context, planID string, query dto.PaymentQuery, actor *models.JWTClaims) ([]models.PaymentRecord, error) {
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
	return s.list(ctx, models.PaymentFilter{PlanID: planID, Status: query.Status, Limit: query.Limit, Offset: query.Offset})
}

// ListInstallmentPayments returns payment history for one installment.
func (s *PaymentService) ListInstallmentPayments(ctx context.Context, installmentID string, query dto.PaymentQuery, actor *models.JWTClaims) ([]models.PaymentRecord, error) {
	inst, err := s.plans.GetInstallment(ctx, installmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "installment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load installment")
	}
	plan, err := s.plans.GetByID(ctx, inst.PlanID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment plan")
	}
	if err := authorizePlanAccess(actor, plan); err != nil {
		return nil, err
	}
	return s.list(ctx, models.PaymentFilter{InstallmentID: installmentID, Status: query.Status, Limit: query.Limit, Offset: query.Offset})
}

func (s *PaymentService) list(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRecord, error) {
	payments, err := s.payments.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	return payments, nil
}

func (s *PaymentService) scheduleReceipt(ctx context.Context, payment *models.PaymentRecord) {
	if s.receipts == nil || payment == nil {
		return
	}
	if err := s.receipts.Schedule(ctx, *payment); err != nil {
		s.logger.Warn("failed to schedule receipt rendering",
			zap.String("payment_id", payment.ID), zap.String("receipt_number", payment.ReceiptNumber), zap.Error(err))
	}
}

func (s *PaymentService) invalidateSummary(ctx context.Context, planID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, planCachePattern(planID)); err != nil {
		s.logger.Warn("failed to invalidate plan summary", zap.String("plan_id", planID), zap.Error(err))
	}
}

func optionalNote(value string) *string {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	return &v
}
