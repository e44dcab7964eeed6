package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-tuition-api/internal/dto"
	"github.com/noah-isme/sma-tuition-api/internal/models"
	"github.com/noah-isme/sma-tuition-api/internal/repository"
)

// memTuitionStore is an in-memory stand-in for the plan and payment repositories. A single
// mutex plays the role of the plan row lock; writes staged inside WithPlanLock are only
// committed when the callback succeeds.
type memTuitionStore struct {
	mu          sync.Mutex
	seq         int
	plans       map[string]models.PaymentPlan
	installs    map[string][]models.Installment
	payments    []models.PaymentRecord
	allocations []models.PaymentAllocation
	references  map[string]bool

	receiptCollisions int
	lockCalls         int
}

func newMemTuitionStore() *memTuitionStore {
	return &memTuitionStore{
		plans:      make(map[string]models.PaymentPlan),
		installs:   make(map[string][]models.Installment),
		references: make(map[string]bool),
	}
}

func (m *memTuitionStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

// seedPlan stores a plan with evenly built installments for tests.
func (m *memTuitionStore) seedPlan(id, payerID string, amounts ...int64) models.PaymentPlan {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	insts := make([]models.Installment, len(amounts))
	for i, amount := range amounts {
		due := decimal.NewFromInt(amount)
		total = total.Add(due)
		insts[i] = models.Installment{
			ID:             fmt.Sprintf("%s-inst-%d", id, i+1),
			PlanID:         id,
			SequenceNumber: i + 1,
			AmountDue:      due,
			AmountPaid:     decimal.Zero,
			DueDate:        start.AddDate(0, 3*i, 0),
			Status:         models.InstallmentStatusPending,
			LateFee:        decimal.Zero,
		}
		insts[i].Derive()
	}
	plan := models.PaymentPlan{
		ID:               id,
		PayerID:          payerID,
		EnrollmentID:     "enr-" + payerID,
		BillingPeriodID:  "2025-2026",
		TotalOwed:        total,
		TotalPaid:        decimal.Zero,
		ScheduleKind:     models.ScheduleQuarterly,
		InstallmentCount: len(amounts),
		Status:           models.PlanStatusActive,
		StartDate:        start,
	}
	plan.Derive()
	m.plans[id] = plan
	m.installs[id] = insts
	return plan
}

func (m *memTuitionStore) plan(id string) models.PaymentPlan {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan := m.plans[id]
	plan.Derive()
	return plan
}

func (m *memTuitionStore) installment(planID string, seq int) models.Installment {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.installs[planID] {
		if inst.SequenceNumber == seq {
			inst.Derive()
			return inst
		}
	}
	return models.Installment{}
}

func (m *memTuitionStore) paymentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

// paymentPlanStore

func (m *memTuitionStore) CreateWithInstallments(ctx context.Context, plan *models.PaymentPlan, installments []models.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.plans {
		if existing.PayerID == plan.PayerID && existing.BillingPeriodID == plan.BillingPeriodID {
			return repository.ErrDuplicatePlan
		}
	}
	if plan.ID == "" {
		plan.ID = m.nextID("plan")
	}
	plan.InstallmentCount = len(installments)
	plan.Derive()
	for i := range installments {
		if installments[i].ID == "" {
			installments[i].ID = fmt.Sprintf("%s-inst-%d", plan.ID, installments[i].SequenceNumber)
		}
		installments[i].PlanID = plan.ID
	}
	m.plans[plan.ID] = *plan
	m.installs[plan.ID] = append([]models.Installment(nil), installments...)
	return nil
}

func (m *memTuitionStore) GetByID(ctx context.Context, id string) (*models.PaymentPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	plan.Derive()
	return &plan, nil
}

func (m *memTuitionStore) List(ctx context.Context, filter models.PaymentPlanFilter) ([]models.PaymentPlan, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PaymentPlan, 0)
	for _, plan := range m.plans {
		if filter.PayerID != "" && plan.PayerID != filter.PayerID {
			continue
		}
		if filter.BillingPeriodID != "" && plan.BillingPeriodID != filter.BillingPeriodID {
			continue
		}
		if filter.Status != "" && plan.Status != filter.Status {
			continue
		}
		plan.Derive()
		out = append(out, plan)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memTuitionStore) ListInstallments(ctx context.Context, planID string) ([]models.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]models.Installment(nil), m.installs[planID]...)
	for i := range out {
		out[i].Derive()
	}
	return out, nil
}

func (m *memTuitionStore) GetInstallment(ctx context.Context, id string) (*models.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, insts := range m.installs {
		for _, inst := range insts {
			if inst.ID == id {
				inst.Derive()
				return &inst, nil
			}
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memTuitionStore) WithPlanLock(ctx context.Context, planID string, fn func(tx repository.PlanTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockCalls++
	plan, ok := m.plans[planID]
	if !ok {
		return sql.ErrNoRows
	}
	plan.Derive()
	rows := append([]models.Installment(nil), m.installs[planID]...)
	insts := make([]*models.Installment, len(rows))
	for i := range rows {
		rows[i].Derive()
		insts[i] = &rows[i]
	}
	tx := &memPlanTx{store: m, plan: &plan, installments: insts, reviews: map[string]repository.ReviewPaymentParams{}}
	if err := fn(tx); err != nil {
		return err
	}
	// commit
	if tx.planSaved {
		m.plans[planID] = *tx.plan
	}
	if tx.installmentsSaved {
		m.installs[planID] = rows
	}
	m.payments = append(m.payments, tx.payments...)
	m.allocations = append(m.allocations, tx.allocations...)
	for i := range m.payments {
		if params, ok := tx.reviews[m.payments[i].ID]; ok {
			reviewedBy := params.ReviewedBy
			reviewedAt := params.ReviewedAt
			m.payments[i].Status = params.Status
			m.payments[i].ReviewedBy = &reviewedBy
			m.payments[i].ReviewedAt = &reviewedAt
			if params.Note != nil {
				m.payments[i].Note = params.Note
			}
		}
	}
	return nil
}

// paymentStore

func (m *memTuitionStore) GetPayment(id string) (*models.PaymentRecord, error) {
	for _, p := range m.payments {
		if p.ID == id {
			p := p
			return &p, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memTuitionStore) FindByIdempotencyKey(ctx context.Context, key string) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.IdempotencyKey != nil && *p.IdempotencyKey == key {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (m *memTuitionStore) ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PaymentRecord, 0)
	for _, p := range m.payments {
		if filter.PlanID != "" && p.PlanID != filter.PlanID {
			continue
		}
		if filter.InstallmentID != "" && (p.InstallmentID == nil || *p.InstallmentID != filter.InstallmentID) {
			continue
		}
		if len(filter.Status) > 0 {
			match := false
			for _, status := range filter.Status {
				match = match || p.Status == status
			}
			if !match {
				continue
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memTuitionStore) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.references[reference] {
		return true, nil
	}
	for _, p := range m.payments {
		if p.ReceiptNumber == reference || p.ReferenceNumber == reference {
			return true, nil
		}
	}
	return false, nil
}

// memPayments exposes the payment half of the store under the repository method names.
type memPayments struct{ *memTuitionStore }

func (p memPayments) GetByID(ctx context.Context, id string) (*models.PaymentRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.GetPayment(id)
}

func (p memPayments) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRecord, error) {
	return p.ListPayments(ctx, filter)
}

type memPlanTx struct {
	store             *memTuitionStore
	plan              *models.PaymentPlan
	installments      []*models.Installment
	payments          []models.PaymentRecord
	allocations       []models.PaymentAllocation
	reviews           map[string]repository.ReviewPaymentParams
	planSaved         bool
	installmentsSaved bool
}

func (t *memPlanTx) Plan() *models.PaymentPlan { return t.plan }

func (t *memPlanTx) Installments() []*models.Installment { return t.installments }

func (t *memPlanTx) LatestActivePayment(ctx context.Context, installmentID *string) (*models.PaymentRecord, error) {
	var latest *models.PaymentRecord
	for i := range t.store.payments {
		p := t.store.payments[i]
		if p.PlanID != t.plan.ID || p.Status == models.PaymentStatusRejected {
			continue
		}
		if installmentID != nil {
			if p.InstallmentID == nil || *p.InstallmentID != *installmentID {
				continue
			}
		} else if p.InstallmentID != nil || p.Kind == models.PaymentKindOtherFee {
			continue
		}
		if latest == nil || !p.CreatedAt.Before(latest.CreatedAt) {
			latest = &p
		}
	}
	return latest, nil
}

func (t *memPlanTx) CountActivePayments(ctx context.Context, installmentID string) (int, error) {
	count := 0
	for _, p := range t.store.payments {
		if p.InstallmentID != nil && *p.InstallmentID == installmentID && p.Status != models.PaymentStatusRejected {
			count++
		}
	}
	return count, nil
}

func (t *memPlanTx) GetPaymentForUpdate(ctx context.Context, paymentID string) (*models.PaymentRecord, error) {
	p, err := t.store.GetPayment(paymentID)
	if err != nil {
		return nil, err
	}
	if p.PlanID != t.plan.ID {
		return nil, sql.ErrNoRows
	}
	return p, nil
}

func (t *memPlanTx) Allocations(ctx context.Context, paymentID string) ([]models.PaymentAllocation, error) {
	out := make([]models.PaymentAllocation, 0)
	for _, a := range t.store.allocations {
		if a.PaymentID == paymentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *memPlanTx) InsertPayment(ctx context.Context, payment *models.PaymentRecord, allocations []models.PaymentAllocation) error {
	if t.store.receiptCollisions > 0 {
		t.store.receiptCollisions--
		return repository.ErrDuplicateReceipt
	}
	for _, p := range append(append([]models.PaymentRecord(nil), t.store.payments...), t.payments...) {
		if p.ReceiptNumber == payment.ReceiptNumber {
			return repository.ErrDuplicateReceipt
		}
		if p.IdempotencyKey != nil && payment.IdempotencyKey != nil && *p.IdempotencyKey == *payment.IdempotencyKey {
			return repository.ErrDuplicateIdempotencyKey
		}
	}
	if payment.ID == "" {
		payment.ID = t.store.nextID("pay")
	}
	for _, alloc := range allocations {
		alloc.ID = t.store.nextID("alloc")
		alloc.PaymentID = payment.ID
		alloc.CreatedAt = payment.CreatedAt
		t.allocations = append(t.allocations, alloc)
	}
	t.payments = append(t.payments, *payment)
	return nil
}

func (t *memPlanTx) UpdatePaymentReview(ctx context.Context, params repository.ReviewPaymentParams) error {
	p, err := t.store.GetPayment(params.ID)
	if err != nil || p.Status != models.PaymentStatusPending {
		return sql.ErrNoRows
	}
	t.reviews[params.ID] = params
	return nil
}

func (t *memPlanTx) SavePlan(ctx context.Context) error {
	if t.plan.TotalPaid.GreaterThan(t.plan.TotalOwed) || t.plan.TotalPaid.IsNegative() {
		return fmt.Errorf("check constraint violated: total_paid %s", t.plan.TotalPaid)
	}
	t.planSaved = true
	return nil
}

func (t *memPlanTx) SaveInstallments(ctx context.Context, installments []*models.Installment) error {
	for _, inst := range installments {
		if inst.AmountPaid.GreaterThan(inst.AmountDue) || inst.AmountPaid.IsNegative() {
			return fmt.Errorf("check constraint violated on installment %d", inst.SequenceNumber)
		}
	}
	t.installmentsSaved = true
	return nil
}

type memAudit struct {
	mu   sync.Mutex
	logs []models.AuditLog
}

func (a *memAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, *log)
	return nil
}

func (a *memAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.logs))
	for i, l := range a.logs {
		out[i] = l.Action
	}
	return out
}

type memCache struct {
	mu          sync.Mutex
	entries     map[string]interface{}
	invalidated []string
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	if summary, ok := dest.(*dto.PaymentPlanSummary); ok {
		*summary = *(v.(*dto.PaymentPlanSummary))
	}
	return true, nil
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]interface{})
	}
	c.entries[key] = value
	return nil
}

func (c *memCache) Invalidate(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

type fixedAllocator struct {
	mu sync.Mutex
	n  int
}

func (a *fixedAllocator) Allocate(ctx context.Context, prefix string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n++
	return fmt.Sprintf("%s-20250701090000-%04d", prefix, a.n)
}

func staffActor() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}

func cashierActor() *models.JWTClaims {
	return &models.JWTClaims{UserID: "cashier-1", Role: models.RoleCashier}
}

func payerActor(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleParent}
}

func strPtr(v string) *string { return &v }

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
