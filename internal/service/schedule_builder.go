package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-tuition-api/internal/models"
	"github.com/noah-isme/sma-tuition-api/pkg/config"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
)

// MaxInstallmentCount caps Custom schedules.
const MaxInstallmentCount = 120

// presetInstallmentCounts maps schedule kinds to their fixed installment count.
var presetInstallmentCounts = map[models.ScheduleKind]int{
	models.ScheduleFullPayment: 1,
	models.ScheduleQuarterly:   4,
	models.ScheduleSemiAnnual:  2,
	models.ScheduleMonthly:     10,
}

// Interval is the spacing between consecutive due dates.
type Interval struct {
	Months int
	Days   int
}

// ParseInterval reads "<n>M", "<n>W" or "<n>D".
func ParseInterval(raw string) (Interval, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if len(raw) < 2 {
		return Interval{}, fmt.Errorf("invalid interval %q", raw)
	}
	n, err := strconv.Atoi(raw[:len(raw)-1])
	if err != nil || n <= 0 {
		return Interval{}, fmt.Errorf("invalid interval %q", raw)
	}
	switch raw[len(raw)-1] {
	case 'M':
		return Interval{Months: n}, nil
	case 'W':
		return Interval{Days: 7 * n}, nil
	case 'D':
		return Interval{Days: n}, nil
	default:
		return Interval{}, fmt.Errorf("invalid interval unit in %q", raw)
	}
}

// Shift returns start advanced by steps intervals. Month steps clamp to the last
// day of the target month so a schedule starting on the 31st stays at month end.
func (i Interval) Shift(start time.Time, steps int) time.Time {
	if steps == 0 {
		return start
	}
	out := start
	if i.Months != 0 {
		out = addMonthsClamped(start, i.Months*steps)
	}
	if i.Days != 0 {
		out = out.AddDate(0, 0, i.Days*steps)
	}
	return out
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	target := first.AddDate(0, months, 0)
	lastDay := target.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(target.Year(), target.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// ScheduleCadence holds the due-date spacing per schedule kind.
type ScheduleCadence struct {
	Monthly    Interval
	Quarterly  Interval
	SemiAnnual Interval
	Custom     Interval
}

// DefaultScheduleCadence spaces installments by calendar months.
func DefaultScheduleCadence() ScheduleCadence {
	return ScheduleCadence{
		Monthly:    Interval{Months: 1},
		Quarterly:  Interval{Months: 3},
		SemiAnnual: Interval{Months: 6},
		Custom:     Interval{Months: 1},
	}
}

// NewScheduleCadence reads cadence constants from configuration, keeping defaults for blanks.
func NewScheduleCadence(cfg config.TuitionConfig) (ScheduleCadence, error) {
	cadence := DefaultScheduleCadence()
	fields := []struct {
		raw    string
		target *Interval
	}{
		{cfg.MonthlyInterval, &cadence.Monthly},
		{cfg.QuarterlyInterval, &cadence.Quarterly},
		{cfg.SemiAnnualInterval, &cadence.SemiAnnual},
		{cfg.CustomInterval, &cadence.Custom},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		interval, err := ParseInterval(f.raw)
		if err != nil {
			return ScheduleCadence{}, err
		}
		*f.target = interval
	}
	return cadence, nil
}

func (c ScheduleCadence) intervalFor(kind models.ScheduleKind) Interval {
	switch kind {
	case models.ScheduleMonthly:
		return c.Monthly
	case models.ScheduleQuarterly:
		return c.Quarterly
	case models.ScheduleSemiAnnual:
		return c.SemiAnnual
	default:
		return c.Custom
	}
}

// ResolveInstallmentCount applies the preset table; requested is only honoured for Custom.
func ResolveInstallmentCount(kind models.ScheduleKind, requested int) (int, error) {
	if !kind.Valid() {
		return 0, appErrors.Clone(appErrors.ErrInvalidSchedule, fmt.Sprintf("unsupported schedule kind %q", kind))
	}
	if kind == models.ScheduleCustom {
		if requested <= 0 {
			return 0, appErrors.Clone(appErrors.ErrInvalidSchedule, "custom schedules require a positive installment count")
		}
		if requested > MaxInstallmentCount {
			return 0, appErrors.Clone(appErrors.ErrInvalidSchedule, fmt.Sprintf("custom schedules allow at most %d installments", MaxInstallmentCount))
		}
		return requested, nil
	}
	return presetInstallmentCounts[kind], nil
}

// ScheduleBuilder materialises installments for a plan.
type ScheduleBuilder struct {
	cadence ScheduleCadence
}

// NewScheduleBuilder constructs a builder with the given cadence.
func NewScheduleBuilder(cadence ScheduleCadence) *ScheduleBuilder {
	return &ScheduleBuilder{cadence: cadence}
}

// BuildSchedule splits total into whole-unit installments; the last one absorbs the remainder
// so the amounts always sum to total exactly.
func (b *ScheduleBuilder) BuildSchedule(total decimal.Decimal, kind models.ScheduleKind, count int, start time.Time) ([]models.Installment, error) {
	if !total.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrInvalidSchedule, "total owed must be greater than zero")
	}
	n, err := ResolveInstallmentCount(kind, count)
	if err != nil {
		return nil, err
	}
	divisor := decimal.NewFromInt(int64(n))
	per := total.Div(divisor).Floor()
	if n > 1 && !per.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrInvalidSchedule, "total owed is too small for the installment count")
	}

	interval := b.cadence.intervalFor(kind)
	installments := make([]models.Installment, n)
	allocated := decimal.Zero
	for i := 0; i < n; i++ {
		amount := per
		if i == n-1 {
			amount = total.Sub(allocated)
		}
		allocated = allocated.Add(amount)
		installments[i] = models.Installment{
			SequenceNumber: i + 1,
			AmountDue:      amount,
			AmountPaid:     decimal.Zero,
			DueDate:        interval.Shift(start, i),
			Status:         models.InstallmentStatusPending,
			LateFee:        decimal.Zero,
		}
		installments[i].Derive()
	}
	return installments, nil
}
