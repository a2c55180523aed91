package redis

import (
	"context"
	"errors"
	"time"

	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/pkg/circuitbreaker"
	"github.com/skillquest/progression-engine/pkg/logger"
)

// ThresholdCache is a read-through cache in front of a ThresholdRepository.
// Several engine processes share one cached copy of the table; Replace
// writes through and drops the cached copy.
type ThresholdCache struct {
	next    progression.ThresholdRepository
	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

var _ progression.ThresholdRepository = (*ThresholdCache)(nil)

// NewThresholdCache wraps next. ttl <= 0 selects TTLThresholds.
func NewThresholdCache(next progression.ThresholdRepository, cache *Cache, ttl time.Duration,
	breaker *circuitbreaker.CircuitBreaker, log *logger.Logger) *ThresholdCache {

	if ttl <= 0 {
		ttl = TTLThresholds
	}
	if breaker == nil {
		breaker = circuitbreaker.CacheBreaker(nil)
	}
	if log == nil {
		log = logger.Default()
	}
	return &ThresholdCache{
		next:    next,
		cache:   cache,
		ttl:     ttl,
		breaker: breaker,
		log:     log.With(logger.Component("threshold_cache")),
	}
}

// List serves the cached table, falling back to the repository.
// Cache errors never fail the read.
func (c *ThresholdCache) List(ctx context.Context) ([]progression.Threshold, error) {
	var rows []progression.Threshold
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.cache.Get(ctx, ThresholdsKey(), &rows)
	})
	switch {
	case err == nil && len(rows) > 0:
		return rows, nil
	case err != nil && !errors.Is(err, ErrCacheMiss):
		c.log.Warn("threshold cache read failed", logger.Err(err))
	}

	rows, err = c.next.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return rows, nil
	}

	if err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.cache.Set(ctx, ThresholdsKey(), rows, c.ttl)
	}); err != nil {
		c.log.Warn("threshold cache write failed", logger.Err(err))
	}
	return rows, nil
}

// Replace writes through and invalidates the cached table.
func (c *ThresholdCache) Replace(ctx context.Context, rows []progression.Threshold) error {
	if err := c.next.Replace(ctx, rows); err != nil {
		return err
	}
	if err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.cache.Delete(ctx, ThresholdsKey())
	}); err != nil {
		c.log.Warn("threshold cache invalidation failed", logger.Err(err))
	}
	return nil
}
