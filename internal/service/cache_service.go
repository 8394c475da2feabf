package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/counseling-booking-api/pkg/errors"
)

const (
	availabilityKeyPrefix = "slots:available:"

	// AvailabilityGenerationKey holds the counter bumped on every availability invalidation.
	// It sits outside AvailabilityPattern so invalidation never resets it.
	AvailabilityGenerationKey = "slots:generation"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Incr(ctx context.Context, key string) (int64, error)
}

// CacheService orchestrates cache operations and related metrics.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return false, nil
		}
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return true, nil
}

// Set stores the value in cache.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
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

// Invalidate removes cached values for the provided pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return err
	}
	return nil
}

// Generation returns the current value of a counter key, zero when it was never bumped.
func (s *CacheService) Generation(ctx context.Context, key string) (int64, error) {
	if !s.Enabled() {
		return 0, nil
	}
	var generation int64
	if err := s.repo.Get(ctx, key, &generation); err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return 0, nil
		}
		s.logger.Warn("cache generation read failed", zap.String("key", key), zap.Error(err))
		return 0, err
	}
	return generation, nil
}

// BumpGeneration increments a counter key so entries keyed on the old value are no longer read.
func (s *CacheService) BumpGeneration(ctx context.Context, key string) error {
	if !s.Enabled() {
		return nil
	}
	if _, err := s.repo.Incr(ctx, key); err != nil {
		s.logger.Warn("cache generation bump failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// AvailabilityKey builds the cache key for an availability window within a generation.
func AvailabilityKey(generation int64, counselorID string, from, to time.Time, limit int) string {
	if counselorID == "" {
		counselorID = "all"
	}
	return fmt.Sprintf("%s%d:%s:%d:%d:%d", availabilityKeyPrefix, generation, counselorID, from.UnixNano(), to.UnixNano(), limit)
}

// AvailabilityPattern matches every cached availability window.
func AvailabilityPattern() string {
	return availabilityKeyPrefix + "*"
}
