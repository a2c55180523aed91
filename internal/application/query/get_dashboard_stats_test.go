package query

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillquest/progression-engine/internal/application/levels"
	"github.com/skillquest/progression-engine/internal/domain/challenge"
	"github.com/skillquest/progression-engine/internal/domain/lesson"
	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/domain/skill"
	"github.com/skillquest/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/skillquest/progression-engine/pkg/logger"
	"github.com/skillquest/progression-engine/pkg/timeutil"
)

const (
	alice = shared.UserID("0b7e8a52-3c1f-4f57-9a55-2a0d3b1e4c11")
	bob   = shared.UserID("6f1d2c3b-4a5e-4f60-8b7c-9d0e1f2a3b4c")
	carol = shared.UserID("9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d")
)

var queryNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type memCache struct {
	mu    sync.Mutex
	items map[shared.UserID]DashboardStats
	gets  int
	err   error
}

func newMemCache() *memCache {
	return &memCache{items: make(map[shared.UserID]DashboardStats)}
}

func (c *memCache) Get(_ context.Context, userID shared.UserID) (*DashboardStats, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.err != nil {
		return nil, false, c.err
	}
	s, ok := c.items[userID]
	if !ok {
		return nil, false, nil
	}
	return &s, true, nil
}

func (c *memCache) Set(_ context.Context, stats *DashboardStats) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[stats.UserID] = *stats
	return nil
}

func (c *memCache) Invalidate(_ context.Context, userID shared.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, userID)
	return nil
}

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, store.Thresholds().Replace(ctx, []progression.Threshold{
		{Level: 1, MinXP: 0, Tier: progression.TierBronze},
		{Level: 2, MinXP: 100, Tier: progression.TierBronze},
		{Level: 3, MinXP: 250, Tier: progression.TierSilver},
	}))
	require.NoError(t, store.Skills().Upsert(ctx, []skill.Skill{
		{ID: "variables", Name: "Variables", RequiredLevel: 1},
		{ID: "loops", Name: "Loops", RequiredLevel: 2},
		{ID: "recursion", Name: "Recursion", RequiredLevel: 3},
	}))

	for userID, xp := range map[shared.UserID]int{alice: 150, bob: 400, carol: 150} {
		p, err := progression.NewProfile(userID, shared.RoleStudent, queryNow)
		require.NoError(t, err)
		p.XP = xp
		_, err = store.Profiles().Create(ctx, p)
		require.NoError(t, err)
	}

	last := timeutil.Date(2026, time.March, 9)
	p, err := store.Profiles().Get(ctx, alice)
	require.NoError(t, err)
	p.CurrentStreak, p.LongestStreak, p.LastActiveDate = 3, 7, &last
	require.NoError(t, store.Profiles().Save(ctx, p))

	_, err = store.UserSkills().InsertAvailable(ctx, alice, []shared.SkillID{"variables", "loops"}, queryNow)
	require.NoError(t, err)
	_, err = store.UserSkills().MarkCompleted(ctx, alice, "variables", queryNow)
	require.NoError(t, err)

	_, err = store.Completions().Insert(ctx, lesson.Completion{UserID: alice, LessonID: "intro", XPEarned: 10, CompletedAt: queryNow})
	require.NoError(t, err)
	_, err = store.Completions().Insert(ctx, lesson.Completion{UserID: alice, LessonID: "loops-101", XPEarned: 10, CompletedAt: queryNow})
	require.NoError(t, err)

	require.NoError(t, store.Challenges().Upsert(ctx, []challenge.Challenge{
		{ID: "daily", Title: "Daily", Type: challenge.TypeDaily, TargetValue: 3, IsActive: true},
	}))
	_, err = store.UserChallenges().Join(ctx, alice, "daily", queryNow)
	require.NoError(t, err)

	return store
}

func newDashboard(store *memory.Store, cache StatsCache) *GetDashboardStatsHandler {
	log := logger.New(logger.Options{Output: io.Discard, Level: logger.LevelError})
	provider := levels.NewProvider(store.Thresholds(), 0, log)
	return NewGetDashboardStatsHandler(store.Profiles(), provider, store.Completions(), store.UserSkills(),
		store.UserChallenges(), cache, nil, timeutil.FixedClock{T: queryNow}, log)
}

func TestGetDashboardStats_ComputesSummary(t *testing.T) {
	h := newDashboard(seedStore(t), nil)

	stats, err := h.Handle(context.Background(), GetDashboardStatsQuery{UserID: alice})
	require.NoError(t, err)

	assert.Equal(t, 150, stats.TotalXP)
	assert.Equal(t, 2, stats.Level)
	assert.Equal(t, progression.TierBronze, stats.Tier)
	assert.Equal(t, 100, stats.CurrentLevelFloor)
	assert.Equal(t, 250, stats.NextLevelXP)
	assert.Equal(t, 33, stats.ProgressPercent)
	assert.Equal(t, 3, stats.CurrentStreak)
	assert.Equal(t, 7, stats.LongestStreak)
	assert.Equal(t, "2026-03-09", stats.LastActiveDate)
	assert.Equal(t, 2, stats.CompletedLessons)
	assert.Equal(t, 1, stats.AvailableSkills)
	assert.Equal(t, 1, stats.CompletedSkills)
	assert.Equal(t, 1, stats.ActiveChallenges)
	assert.Equal(t, queryNow, stats.GeneratedAt)
}

func TestGetDashboardStats_RankCountsStrictlyAhead(t *testing.T) {
	h := newDashboard(seedStore(t), nil)
	ctx := context.Background()

	a, err := h.Handle(ctx, GetDashboardStatsQuery{UserID: alice})
	require.NoError(t, err)
	c, err := h.Handle(ctx, GetDashboardStatsQuery{UserID: carol})
	require.NoError(t, err)
	b, err := h.Handle(ctx, GetDashboardStatsQuery{UserID: bob})
	require.NoError(t, err)

	assert.Equal(t, 1, b.Rank)
	assert.Equal(t, 2, a.Rank)
	assert.Equal(t, 2, c.Rank)
}

func TestGetDashboardStats_UsesCache(t *testing.T) {
	store := seedStore(t)
	cache := newMemCache()
	h := newDashboard(store, cache)
	ctx := context.Background()

	first, err := h.Handle(ctx, GetDashboardStatsQuery{UserID: alice})
	require.NoError(t, err)

	// A write the cache has not been told about stays invisible.
	_, err = store.Completions().Insert(ctx, lesson.Completion{UserID: alice, LessonID: "extra", CompletedAt: queryNow})
	require.NoError(t, err)

	cached, err := h.Handle(ctx, GetDashboardStatsQuery{UserID: alice})
	require.NoError(t, err)
	assert.Equal(t, first.CompletedLessons, cached.CompletedLessons)

	require.NoError(t, cache.Invalidate(ctx, alice))
	fresh, err := h.Handle(ctx, GetDashboardStatsQuery{UserID: alice})
	require.NoError(t, err)
	assert.Equal(t, 3, fresh.CompletedLessons)

	skipped, err := h.Handle(ctx, GetDashboardStatsQuery{UserID: alice, SkipCache: true})
	require.NoError(t, err)
	assert.Equal(t, 3, skipped.CompletedLessons)
}

func TestGetDashboardStats_CacheFailureFallsBack(t *testing.T) {
	cache := newMemCache()
	cache.err = errors.New("redis down")
	h := newDashboard(seedStore(t), cache)

	stats, err := h.Handle(context.Background(), GetDashboardStatsQuery{UserID: alice})
	require.NoError(t, err)
	assert.Equal(t, 150, stats.TotalXP)
}

func TestGetDashboardStats_Errors(t *testing.T) {
	h := newDashboard(seedStore(t), nil)

	_, err := h.Handle(context.Background(), GetDashboardStatsQuery{UserID: "bad"})
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)

	_, err = h.Handle(context.Background(), GetDashboardStatsQuery{UserID: "1d2c3b4a-5e6f-4a7b-8c9d-0e1f2a3b4c5d"})
	assert.True(t, shared.IsNotFound(err))
}

func TestSkillTree_MarksStatuses(t *testing.T) {
	store := seedStore(t)
	h := NewSkillTreeHandler(store.Skills(), store.UserSkills())

	nodes, err := h.Handle(context.Background(), SkillTreeQuery{UserID: alice})
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	statuses := make(map[shared.SkillID]skill.Status, len(nodes))
	for _, n := range nodes {
		statuses[n.Skill.ID] = n.Status
	}
	assert.Equal(t, skill.StatusCompleted, statuses["variables"])
	assert.Equal(t, skill.StatusAvailable, statuses["loops"])
	assert.Equal(t, skill.StatusLocked, statuses["recursion"])
	assert.Equal(t, shared.SkillID("recursion"), nodes[2].Skill.ID)
}

func TestCalculateLevel(t *testing.T) {
	store := seedStore(t)
	h := NewCalculateLevelHandler(levels.NewProvider(store.Thresholds(), 0, nil))

	info, err := h.Handle(context.Background(), 150)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Level)
	assert.Equal(t, progression.TierBronze, info.Tier)
	assert.Equal(t, 250, info.NextLevelCeiling)

	_, err = h.Handle(context.Background(), -1)
	assert.True(t, shared.IsValidation(err))
}
