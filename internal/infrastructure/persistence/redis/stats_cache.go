package redis

import (
	"context"
	"errors"
	"time"

	"github.com/skillquest/progression-engine/internal/application/query"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/pkg/circuitbreaker"
)

// StatsCache implements query.StatsCache. Calls go through a circuit
// breaker so a dead Redis degrades to uncached reads.
type StatsCache struct {
	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
}

var _ query.StatsCache = (*StatsCache)(nil)

// NewStatsCache creates a StatsCache. ttl <= 0 selects TTLDashboardStats.
func NewStatsCache(cache *Cache, ttl time.Duration, breaker *circuitbreaker.CircuitBreaker) *StatsCache {
	if ttl <= 0 {
		ttl = TTLDashboardStats
	}
	if breaker == nil {
		breaker = circuitbreaker.CacheBreaker(nil)
	}
	return &StatsCache{cache: cache, ttl: ttl, breaker: breaker}
}

// Get returns the cached stats; ok is false on a miss.
func (s *StatsCache) Get(ctx context.Context, userID shared.UserID) (*query.DashboardStats, bool, error) {
	var stats query.DashboardStats
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		err := s.cache.Get(ctx, DashboardKey(userID.String()), &stats)
		if errors.Is(err, ErrCacheMiss) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if stats.UserID == "" {
		return nil, false, nil
	}
	return &stats, true, nil
}

// Set stores the stats under the user's key.
func (s *StatsCache) Set(ctx context.Context, stats *query.DashboardStats) error {
	if stats == nil {
		return nil
	}
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.cache.Set(ctx, DashboardKey(stats.UserID.String()), stats, s.ttl)
	})
}

// Invalidate drops the user's cached stats.
func (s *StatsCache) Invalidate(ctx context.Context, userID shared.UserID) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.cache.Delete(ctx, DashboardKey(userID.String()))
	})
}

// InvalidateAll drops every cached dashboard. Ranks shift for everyone
// when the threshold table changes.
func (s *StatsCache) InvalidateAll(ctx context.Context) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.cache.DeleteByPattern(ctx, PrefixDashboard+"*")
	})
}
