package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"
)

type referenceLookup interface {
	ReferenceExists(ctx context.Context, reference string) (bool, error)
}

// AllocatorConfig bounds the collision retry loop.
type AllocatorConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// ReferenceAllocator generates human-readable receipt and cash reference numbers.
// Uniqueness is best effort; the unique index on receipt_number is the backstop.
type ReferenceAllocator struct {
	lookup  referenceLookup
	cfg     AllocatorConfig
	logger  *zap.Logger
	metrics *MetricsService
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration)
	suffix  func() string
}

// AllocatorOption customises the allocator.
type AllocatorOption func(*ReferenceAllocator)

// WithAllocatorClock overrides the time source.
func WithAllocatorClock(now func() time.Time) AllocatorOption {
	return func(a *ReferenceAllocator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithAllocatorSleep overrides the pause between attempts.
func WithAllocatorSleep(sleep func(ctx context.Context, d time.Duration)) AllocatorOption {
	return func(a *ReferenceAllocator) {
		if sleep != nil {
			a.sleep = sleep
		}
	}
}

// WithAllocatorSuffix overrides the random suffix source.
func WithAllocatorSuffix(suffix func() string) AllocatorOption {
	return func(a *ReferenceAllocator) {
		if suffix != nil {
			a.suffix = suffix
		}
	}
}

// NewReferenceAllocator constructs the allocator with defaults of 5 attempts and 100ms pauses.
func NewReferenceAllocator(lookup referenceLookup, cfg AllocatorConfig, logger *zap.Logger, metrics *MetricsService, opts ...AllocatorOption) *ReferenceAllocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	a := &ReferenceAllocator{
		lookup:  lookup,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   sleepContext,
		suffix:  randomSuffix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Allocate returns prefix-YYYYMMDDhhmmss-NNNN, retrying on collision. When every attempt
// collides it degrades to prefix-<unix millis> without a final existence check. It never fails.
func (a *ReferenceAllocator) Allocate(ctx context.Context, prefix string) string {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		candidate := fmt.Sprintf("%s-%s-%s", prefix, a.now().Format("20060102150405"), a.suffix())
		exists, err := a.lookup.ReferenceExists(ctx, candidate)
		if err != nil {
			a.logger.Warn("reference lookup failed", zap.String("candidate", candidate), zap.Error(err))
		} else if !exists {
			return candidate
		}
		if attempt < a.cfg.MaxAttempts {
			if ctx.Err() != nil {
				break
			}
			a.sleep(ctx, a.cfg.RetryDelay)
		}
	}

	fallback := fmt.Sprintf("%s-%d", prefix, a.now().UnixMilli())
	a.logger.Warn("reference allocation degraded",
		zap.String("prefix", prefix),
		zap.Int("attempts", a.cfg.MaxAttempts),
		zap.String("reference", fallback),
	)
	a.metrics.RecordAllocationDegraded(prefix)
	return fallback
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func randomSuffix() string {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return fmt.Sprintf("%04d", time.Now().UnixNano()%10000)
	}
	return fmt.Sprintf("%04d", n.Int64())
}
