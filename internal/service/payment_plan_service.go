package service

import (
	"context"
	"database/sql"
	"encoding/json"
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
)

type paymentPlanStore interface {
	CreateWithInstallments(ctx context.Context, plan *models.PaymentPlan, installments []models.Installment) error
	GetByID(ctx context.Context, id string) (*models.PaymentPlan, error)
	List(ctx context.Context, filter models.PaymentPlanFilter) ([]models.PaymentPlan, int, error)
	ListInstallments(ctx context.Context, planID string) ([]models.Installment, error)
	GetInstallment(ctx context.Context, id string) (*models.Installment, error)
	WithPlanLock(ctx context.Context, planID string, fn func(tx repository.PlanTx) error) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type summaryCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// PaymentPlanService implements the plan lifecycle: creation, cancellation, schedule edits,
// overdue signals and the read models shown to payers.
type PaymentPlanService struct {
	store      paymentPlanStore
	builder    *ScheduleBuilder
	audit      auditLogger
	cache      summaryCache
	summaryTTL time.Duration
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// PaymentPlanServiceOption customises the service.
type PaymentPlanServiceOption func(*PaymentPlanService)

// WithPlanClock overrides the time source.
func WithPlanClock(now func() time.Time) PaymentPlanServiceOption {
	return func(s *PaymentPlanService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewPaymentPlanService constructs the lifecycle manager.
func NewPaymentPlanService(store paymentPlanStore, builder *ScheduleBuilder, audit auditLogger, cache summaryCache, summaryTTL time.Duration, logger *zap.Logger, opts ...PaymentPlanServiceOption) *PaymentPlanService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if builder == nil {
		builder = NewScheduleBuilder(DefaultScheduleCadence())
	}
	svc := &PaymentPlanService{
		store:      store,
		builder:    builder,
		audit:      audit,
		cache:      cache,
		summaryTTL: summaryTTL,
		validator:  validator.New(),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// CreatePlan builds the installment schedule and stores the plan in one transaction.
func (s *PaymentPlanService) CreatePlan(ctx context.Context, req dto.CreatePaymentPlanRequest, actor *models.JWTClaims) (*dto.PaymentPlanResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if req.StartDate.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_date is required")
	}
	kind := models.ScheduleKind(strings.ToUpper(string(req.ScheduleKind)))
	installments, err := s.builder.BuildSchedule(req.TotalOwed, kind, req.InstallmentCount, req.StartDate.UTC())
	if err != nil {
		return nil, err
	}

	plan := &models.PaymentPlan{
		PayerID:          req.PayerID,
		EnrollmentID:     req.EnrollmentID,
		BillingPeriodID:  req.BillingPeriodID,
		TotalOwed:        req.TotalOwed,
		TotalPaid:        decimal.Zero,
		ScheduleKind:     kind,
		InstallmentCount: len(installments),
		Status:           models.PlanStatusActive,
		StartDate:        req.StartDate.UTC(),
	}
	if err := s.store.CreateWithInstallments(ctx, plan, installments); err != nil {
		if errors.Is(err, repository.ErrDuplicatePlan) {
			return nil, appErrors.ErrPlanExists
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create payment plan")
	}

	s.logger.Info("payment plan created",
		zap.String("plan_id", plan.ID),
		zap.String("payer_id", plan.PayerID),
		zap.String("schedule_kind", string(plan.ScheduleKind)),
		zap.Int("installments", len(installments)),
	)
	s.emitAudit(ctx, actor, models.AuditActionPlanCreate, plan.ID, nil, plan)
	return &dto.PaymentPlanResponse{Plan: plan, Installments: installments}, nil
}

// GetPlan returns a plan the actor may see.
func (s *PaymentPlanService) GetPlan(ctx context.Context, id string, actor *models.JWTClaims) (*models.PaymentPlan, error) {
	plan, err := s.loadPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizePlanAccess(actor, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// GetSummary returns the plan read model, served from cache when available.
func (s *PaymentPlanService) GetSummary(ctx context.Context, id string, actor *models.JWTClaims) (*dto.PaymentPlanSummary, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	key := planSummaryKey(id)
	var cached dto.PaymentPlanSummary
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			if err := authorizePayer(actor, cached.PayerID); err != nil {
				return nil, err
			}
			return &cached, nil
		}
	}

	plan, err := s.loadPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizePlanAccess(actor, plan); err != nil {
		return nil, err
	}
	installments, err := s.store.ListInstallments(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load installments")
	}
	summary := BuildPlanSummary(plan, installments)
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, summary, s.summaryTTL)
	}
	return summary, nil
}

// BuildPlanSummary derives the read model from a plan snapshot.
func BuildPlanSummary(plan *models.PaymentPlan, installments []models.Installment) *dto.PaymentPlanSummary {
	plan.Derive()
	summary := &dto.PaymentPlanSummary{
		PlanID:            plan.ID,
		PayerID:           plan.PayerID,
		TotalOwed:         plan.TotalOwed,
		TotalPaid:         plan.TotalPaid,
		Balance:           plan.Balance,
		Status:            plan.Status,
		ScheduleKind:      plan.ScheduleKind,
		InstallmentCount:  plan.InstallmentCount,
		PercentPaid:       PercentPaid(plan.TotalPaid, plan.TotalOwed),
		InstallmentsTotal: len(installments),
	}
	for i := range installments {
		inst := installments[i]
		if inst.Status == models.InstallmentStatusPaid {
			summary.InstallmentsPaid++
			continue
		}
		if summary.NextDueDate == nil || inst.DueDate.Before(*summary.NextDueDate) {
			due := inst.DueDate
			summary.NextDueDate = &due
		}
	}
	return summary
}

// PercentPaid is total_paid / total_owed * 100 rounded to one decimal.
func PercentPaid(paid, owed decimal.Decimal) float64 {
	if !owed.IsPositive() {
		return 0
	}
	return paid.Div(owed).Mul(decimal.NewFromInt(100)).Round(1).InexactFloat64()
}

// ListPlans returns plans visible to the actor. Payers only see their own plans.
func (s *PaymentPlanService) ListPlans(ctx context.Context, query dto.PaymentPlanQuery, actor *models.JWTClaims) ([]models.PaymentPlan, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter := models.PaymentPlanFilter{
		PayerID:         query.PayerID,
		BillingPeriodID: query.BillingPeriodID,
		Status:          models.PlanStatus(strings.ToUpper(string(query.Status))),
		Page:            query.Page,
		PageSize:        query.PageSize,
	}
	if !actor.Role.IsStaff() {
		filter.PayerID = actor.UserID
	}
	plans, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payment plans")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return plans, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ListInstallments returns the schedule of a plan the actor may see.
func (s *PaymentPlanService) ListInstallments(ctx context.Context, planID string, actor *models.JWTClaims) ([]models.Installment, error) {
	if _, err := s.GetPlan(ctx, planID, actor); err != nil {
		return nil, err
	}
	installments, err := s.store.ListInstallments(ctx, planID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list installments")
	}
	return installments, nil
}

// CancelPlan moves the plan to Cancelled. Completed plans cannot be cancelled; repeated
// cancellation returns the plan unchanged.
func (s *PaymentPlanService) CancelPlan(ctx context.Context, planID string, actor *models.JWTClaims) (*models.PaymentPlan, error) {
	var (
		result    models.PaymentPlan
		cancelled bool
	)
	err := s.store.WithPlanLock(ctx, planID, func(tx repository.PlanTx) error {
		plan := tx.Plan()
		switch plan.Status {
		case models.PlanStatusCancelled:
			result = *plan
			return nil
		case models.PlanStatusCompleted:
			return appErrors.Clone(appErrors.ErrConflict, "completed payment plans cannot be cancelled")
		}
		now := s.now()
		plan.Status = models.PlanStatusCancelled
		plan.CancelledAt = &now
		plan.UpdatedAt = now
		if err := tx.SavePlan(ctx); err != nil {
			return err
		}
		cancelled = true
		result = *plan
		return nil
	})
	if err != nil {
		return nil, planLockError(err, "failed to cancel payment plan")
	}
	if cancelled {
		s.invalidateSummary(ctx, planID)
		s.logger.Info("payment plan cancelled", zap.String("plan_id", planID))
		s.emitAudit(ctx, actor, models.AuditActionPlanCancel, planID, nil, result)
	}
	return &result, nil
}

// EditInstallmentSchedule applies every entry or none. A rejected batch carries the
// conflicting entries together with the proposed changes.
func (s *PaymentPlanService) EditInstallmentSchedule(ctx context.Context, planID string, req dto.EditScheduleRequest, actor *models.JWTClaims) ([]models.Installment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	var (
		updated []models.Installment
		before  []models.Installment
	)
	err := s.store.WithPlanLock(ctx, planID, func(tx repository.PlanTx) error {
		plan := tx.Plan()
		if plan.Status == models.PlanStatusCancelled {
			return appErrors.ErrPlanCancelled
		}
		if plan.Status == models.PlanStatusCompleted {
			return appErrors.Clone(appErrors.ErrScheduleConflict, "completed payment plans cannot be rescheduled")
		}
		installments := tx.Installments()
		before = snapshotInstallments(installments)

		conflicts := validateScheduleEdit(plan, installments, req.Entries)
		if len(conflicts) > 0 {
			return appErrors.WithDetails(appErrors.ErrScheduleConflict, dto.ScheduleEditRejection{
				Conflicts: conflicts,
				Proposed:  req.Entries,
			})
		}

		now := s.now()
		changed := make([]*models.Installment, 0, len(req.Entries))
		for _, entry := range req.Entries {
			inst := installmentBySequence(installments, entry.SequenceNumber)
			if entry.DueDate != nil {
				inst.DueDate = entry.DueDate.UTC()
			}
			if entry.AmountDue != nil {
				inst.AmountDue = *entry.AmountDue
			}
			rederiveInstallmentStatus(inst, now)
			inst.UpdatedAt = now
			changed = append(changed, inst)
		}
		if err := tx.SaveInstallments(ctx, changed); err != nil {
			return err
		}
		updated = snapshotInstallments(installments)
		return nil
	})
	if err != nil {
		return nil, planLockError(err, "failed to edit installment schedule")
	}
	s.invalidateSummary(ctx, planID)
	s.emitAudit(ctx, actor, models.AuditActionScheduleEdit, planID, before, updated)
	return updated, nil
}

func validateScheduleEdit(plan *models.PaymentPlan, installments []*models.Installment, entries []dto.ScheduleEditEntry) []dto.ScheduleConflict {
	conflicts := make([]dto.ScheduleConflict, 0)
	seen := make(map[int]bool, len(entries))
	proposed := make(map[int]decimal.Decimal, len(installments))
	for _, inst := range installments {
		proposed[inst.SequenceNumber] = inst.AmountDue
	}
	for _, entry := range entries {
		if seen[entry.SequenceNumber] {
			conflicts = append(conflicts, dto.ScheduleConflict{SequenceNumber: entry.SequenceNumber, Field: "sequence_number", Reason: "installment listed more than once"})
			continue
		}
		seen[entry.SequenceNumber] = true
		inst := installmentBySequence(installments, entry.SequenceNumber)
		if inst == nil {
			conflicts = append(conflicts, dto.ScheduleConflict{SequenceNumber: entry.SequenceNumber, Field: "sequence_number", Reason: "installment does not exist in plan"})
			continue
		}
		if entry.DueDate == nil && entry.AmountDue == nil {
			conflicts = append(conflicts, dto.ScheduleConflict{SequenceNumber: entry.SequenceNumber, Field: "entry", Reason: "nothing to change"})
			continue
		}
		if entry.DueDate != nil && entry.DueDate.IsZero() {
			conflicts = append(conflicts, dto.ScheduleConflict{SequenceNumber: entry.SequenceNumber, Field: "due_date", Reason: "due date is required"})
		}
		if entry.AmountDue != nil {
			switch {
			case !entry.AmountDue.IsPositive():
				conflicts = append(conflicts, dto.ScheduleConflict{SequenceNumber: entry.SequenceNumber, Field: "amount_due", Reason: "amount due must be greater than zero"})
			case entry.AmountDue.LessThan(inst.AmountPaid):
				conflicts = append(conflicts, dto.ScheduleConflict{
					SequenceNumber: entry.SequenceNumber,
					Field:          "amount_due",
					Reason:         fmt.Sprintf("amount due %s is below amount already paid %s", entry.AmountDue.String(), inst.AmountPaid.String()),
				})
			default:
				proposed[entry.SequenceNumber] = *entry.AmountDue
			}
		}
	}
	if len(conflicts) > 0 {
		return conflicts
	}
	sum := decimal.Zero
	for _, amount := range proposed {
		sum = sum.Add(amount)
	}
	if !sum.Equal(plan.TotalOwed) {
		conflicts = append(conflicts, dto.ScheduleConflict{
			Field:  "amount_due",
			Reason: fmt.Sprintf("installment amounts sum to %s but plan total owed is %s", sum.String(), plan.TotalOwed.String()),
		})
	}
	return conflicts
}

// MarkOverdue stores the external overdue signal. Paid installments are left untouched.
// The plan is Overdue while any unpaid installment carries days_overdue > 0.
func (s *PaymentPlanService) MarkOverdue(ctx context.Context, planID string, req dto.MarkOverdueRequest, actor *models.JWTClaims) (*models.PaymentPlan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	var result models.PaymentPlan
	err := s.store.WithPlanLock(ctx, planID, func(tx repository.PlanTx) error {
		plan := tx.Plan()
		if plan.Status == models.PlanStatusCancelled {
			return appErrors.ErrPlanCancelled
		}
		installments := tx.Installments()
		now := s.now()
		changed := make([]*models.Installment, 0, len(req.Entries))
		for _, entry := range req.Entries {
			inst := installmentBySequence(installments, entry.SequenceNumber)
			if inst == nil {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("installment %d does not exist in plan", entry.SequenceNumber))
			}
			if entry.LateFee.IsNegative() {
				return appErrors.Clone(appErrors.ErrValidation, "late_fee must not be negative")
			}
			inst.Derive()
			if !inst.Balance.IsPositive() {
				s.logger.Debug("overdue signal ignored for settled installment",
					zap.String("plan_id", planID), zap.Int("sequence_number", inst.SequenceNumber))
				continue
			}
			inst.DaysOverdue = entry.DaysOverdue
			inst.LateFee = entry.LateFee
			rederiveInstallmentStatus(inst, now)
			inst.UpdatedAt = now
			changed = append(changed, inst)
		}
		if len(changed) > 0 {
			if err := tx.SaveInstallments(ctx, changed); err != nil {
				return err
			}
		}
		if !plan.Status.Terminal() {
			next := models.PlanStatusActive
			if anyOverdue(installments) {
				next = models.PlanStatusOverdue
			}
			if next != plan.Status {
				plan.Status = next
				plan.UpdatedAt = now
				if err := tx.SavePlan(ctx); err != nil {
					return err
				}
			}
		}
		result = *plan
		return nil
	})
	if err != nil {
		return nil, planLockError(err, "failed to mark installments overdue")
	}
	s.invalidateSummary(ctx, planID)
	s.emitAudit(ctx, actor, models.AuditActionOverdueMark, planID, nil, req)
	return &result, nil
}

func (s *PaymentPlanService) loadPlan(ctx context.Context, id string) (*models.PaymentPlan, error) {
	plan, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment plan")
	}
	plan.Derive()
	return plan, nil
}

func (s *PaymentPlanService) invalidateSummary(ctx context.Context, planID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, planCachePattern(planID)); err != nil {
		s.logger.Warn("failed to invalidate plan summary", zap.String("plan_id", planID), zap.Error(err))
	}
}

func (s *PaymentPlanService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, planID string, oldValue, newValue interface{}) {
	emitAudit(ctx, s.audit, s.logger, "payment-plan-service", actor, action, "payment_plan", planID, oldValue, newValue)
}

func emitAudit(ctx context.Context, audit auditLogger, logger *zap.Logger, source string, actor *models.JWTClaims, action, resource, resourceID string, oldValue, newValue interface{}) {
	if audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
		IPAddress:  "system",
		UserAgent:  source,
	}
	if actor != nil {
		userID := actor.UserID
		log.UserID = &userID
	}
	if oldValue != nil {
		log.OldValues, _ = json.Marshal(oldValue)
	}
	if newValue != nil {
		log.NewValues, _ = json.Marshal(newValue)
	}
	if err := audit.CreateAuditLog(ctx, log); err != nil {
		logger.Warn("failed to persist audit log", zap.String("action", action), zap.Error(err))
	}
}

func planSummaryKey(planID string) string {
	return fmt.Sprintf("tuition:plan:%s:summary", planID)
}

func planCachePattern(planID string) string {
	return fmt.Sprintf("tuition:plan:%s:*", planID)
}

func authorizePlanAccess(actor *models.JWTClaims, plan *models.PaymentPlan) error {
	if plan == nil {
		return appErrors.ErrNotFound
	}
	return authorizePayer(actor, plan.PayerID)
}

func authorizePayer(actor *models.JWTClaims, payerID string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if !actor.ActsFor(payerID) {
		return appErrors.ErrForbidden
	}
	return nil
}

// planLockError maps errors surfacing from a locked transaction.
func planLockError(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "payment plan not found")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func installmentBySequence(installments []*models.Installment, sequence int) *models.Installment {
	for _, inst := range installments {
		if inst.SequenceNumber == sequence {
			return inst
		}
	}
	return nil
}

// rederiveInstallmentStatus recomputes status after amounts or overdue flags change.
// Partial outranks Overdue; days_overdue and late_fee stay set and keep the plan Overdue.
func rederiveInstallmentStatus(inst *models.Installment, now time.Time) {
	inst.Derive()
	switch {
	case !inst.Balance.IsPositive():
		inst.Status = models.InstallmentStatusPaid
		if inst.PaidDate == nil {
			paid := now
			inst.PaidDate = &paid
		}
	case inst.AmountPaid.IsPositive():
		inst.Status = models.InstallmentStatusPartial
		inst.PaidDate = nil
	case inst.DaysOverdue > 0:
		inst.Status = models.InstallmentStatusOverdue
		inst.PaidDate = nil
	default:
		inst.Status = models.InstallmentStatusPending
		inst.PaidDate = nil
	}
}

func snapshotInstallments(installments []*models.Installment) []models.Installment {
	out := make([]models.Installment, len(installments))
	for i, inst := range installments {
		out[i] = *inst
	}
	return out
}
