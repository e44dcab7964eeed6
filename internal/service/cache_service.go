package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
)

// maxTrackedKeys bounds the fill guard bookkeeping.
const maxTrackedKeys = 4096

// CacheRepository abstracts persistence for cached plan read models.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService fronts the summary cache with metrics. Reads degrade to a miss on failure.
//
// Keys are namespaced as "<scope>:<name>" and invalidated by "<scope>:*". A value read
// from the store after a miss is only written back when its scope was not invalidated in
// between, so a summary computed before a payment lands cannot overwrite the fresher state.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool

	mu          sync.Mutex
	seq         uint64
	misses      map[string]uint64
	invalidated map[string]uint64
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{
		repo:        repo,
		metrics:     metrics,
		defaultTTL:  defaultTTL,
		logger:      logger,
		enabled:     enabled,
		misses:      make(map[string]uint64),
		invalidated: make(map[string]uint64),
	}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get reports whether key was found and decoded into dest.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err == nil {
		return true, nil
	}
	s.noteMiss(key)
	if errors.Is(err, appErrors.ErrCacheMiss) {
		return false, nil
	}
	s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	return false, err
}

// Set stores value under key; ttl <= 0 uses the default. The write is skipped when the
// key's scope was invalidated after the miss that prompted it.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if s.stale(key) {
		s.logger.Debug("cache fill skipped after invalidation", zap.String("key", key))
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Invalidate removes every cached value matching pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	s.noteInvalidation(pattern)
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return err
	}
	return nil
}

func (s *CacheService) noteMiss(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.misses) >= maxTrackedKeys {
		s.misses = make(map[string]uint64)
	}
	s.seq++
	s.misses[key] = s.seq
}

func (s *CacheService) noteInvalidation(pattern string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.invalidated) >= maxTrackedKeys {
		s.invalidated = make(map[string]uint64)
	}
	s.seq++
	s.invalidated[strings.TrimSuffix(pattern, "*")] = s.seq
}

func (s *CacheService) stale(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	missedAt, ok := s.misses[key]
	if !ok {
		return false
	}
	delete(s.misses, key)
	return s.invalidated[scopeOf(key)] > missedAt
}

// scopeOf returns the key up to and including its last separator.
func scopeOf(key string) string {
	idx := strings.LastIndex(key, ":")
	if idx < 0 {
		return key
	}
	return key[:idx+1]
}
