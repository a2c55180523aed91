// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skillquest/progression-engine/internal/application/levels"
	"github.com/skillquest/progression-engine/internal/domain/challenge"
	"github.com/skillquest/progression-engine/internal/domain/lesson"
	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/domain/skill"
	"github.com/skillquest/progression-engine/pkg/logger"
	"github.com/skillquest/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DASHBOARD STATS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// DashboardStats is the summary shown on a user's dashboard.
type DashboardStats struct {
	UserID            shared.UserID    `json:"user_id"`
	TotalXP           int              `json:"total_xp"`
	Level             int              `json:"level"`
	Tier              progression.Tier `json:"tier"`
	CurrentLevelFloor int              `json:"current_level_floor"`
	NextLevelXP       int              `json:"next_level_xp"`
	ProgressPercent   int              `json:"progress_percent"`
	CurrentStreak     int              `json:"current_streak"`
	LongestStreak     int              `json:"longest_streak"`
	LastActiveDate    string           `json:"last_active_date,omitempty"`
	CompletedLessons  int              `json:"completed_lessons"`
	AvailableSkills   int              `json:"available_skills"`
	CompletedSkills   int              `json:"completed_skills"`
	ActiveChallenges  int              `json:"active_challenges"`
	Rank              int              `json:"rank"`
	GeneratedAt       time.Time        `json:"generated_at"`
}

// StatsCache caches dashboard stats per user.
type StatsCache interface {
	Get(ctx context.Context, userID shared.UserID) (*DashboardStats, bool, error)
	Set(ctx context.Context, stats *DashboardStats) error
	Invalidate(ctx context.Context, userID shared.UserID) error
}

// GetDashboardStatsQuery requests a user's dashboard.
type GetDashboardStatsQuery struct {
	UserID shared.UserID

	// SkipCache forces a fresh computation.
	SkipCache bool
}

// GetDashboardStatsHandler handles GetDashboardStatsQuery.
type GetDashboardStatsHandler struct {
	profiles       progression.ProfileRepository
	levels         *levels.Provider
	completions    lesson.CompletionRepository
	userSkills     skill.UserSkillRepository
	userChallenges challenge.UserChallengeRepository
	cache          StatsCache
	useCache       func(shared.UserID) bool
	clock          timeutil.Clock
	log            *logger.Logger
}

// NewGetDashboardStatsHandler creates a new handler. cache may be nil.
// useCache selects the users served from the cache; nil means all.
func NewGetDashboardStatsHandler(
	profiles progression.ProfileRepository,
	levels *levels.Provider,
	completions lesson.CompletionRepository,
	userSkills skill.UserSkillRepository,
	userChallenges challenge.UserChallengeRepository,
	cache StatsCache,
	useCache func(shared.UserID) bool,
	clock timeutil.Clock,
	log *logger.Logger,
) *GetDashboardStatsHandler {
	if useCache == nil {
		useCache = func(shared.UserID) bool { return true }
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &GetDashboardStatsHandler{
		profiles:       profiles,
		levels:         levels,
		completions:    completions,
		userSkills:     userSkills,
		userChallenges: userChallenges,
		cache:          cache,
		useCache:       useCache,
		clock:          clock,
		log:            log.With(logger.Component("dashboard")),
	}
}

// Handle returns the stats, from the cache when possible.
func (h *GetDashboardStatsHandler) Handle(ctx context.Context, q GetDashboardStatsQuery) (*DashboardStats, error) {
	if !q.UserID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}

	cached := h.cache != nil && h.useCache(q.UserID)
	if cached && !q.SkipCache {
		stats, ok, err := h.cache.Get(ctx, q.UserID)
		if err != nil {
			h.log.Warn("dashboard cache read failed", logger.UserID(q.UserID.String()), logger.Err(err))
		} else if ok {
			return stats, nil
		}
	}

	stats, err := h.compute(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_dashboard_stats: %w", err)
	}

	if cached {
		if err := h.cache.Set(ctx, stats); err != nil {
			h.log.Warn("dashboard cache write failed", logger.UserID(q.UserID.String()), logger.Err(err))
		}
	}
	return stats, nil
}

func (h *GetDashboardStatsHandler) compute(ctx context.Context, userID shared.UserID) (*DashboardStats, error) {
	p, err := h.profiles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	resolver, err := h.levels.Resolver(ctx)
	if err != nil {
		return nil, err
	}
	info := resolver.Resolve(p.XP)

	stats := &DashboardStats{
		UserID:            userID,
		TotalXP:           p.XP,
		Level:             info.Level,
		Tier:              info.Tier,
		CurrentLevelFloor: info.CurrentLevelFloor,
		NextLevelXP:       info.NextLevelCeiling,
		ProgressPercent:   info.ProgressPercent(p.XP),
		CurrentStreak:     p.CurrentStreak,
		LongestStreak:     p.LongestStreak,
		GeneratedAt:       h.clock.Now().UTC(),
	}
	if p.LastActiveDate != nil {
		stats.LastActiveDate = timeutil.FormatDay(*p.LastActiveDate)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.CompletedLessons, err = h.completions.CountByUser(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		stats.AvailableSkills, err = h.userSkills.CountByStatus(gctx, userID, skill.StatusAvailable)
		return err
	})
	g.Go(func() (err error) {
		stats.CompletedSkills, err = h.userSkills.CountByStatus(gctx, userID, skill.StatusCompleted)
		return err
	})
	g.Go(func() (err error) {
		stats.ActiveChallenges, err = h.userChallenges.CountActive(gctx, userID)
		return err
	})
	g.Go(func() error {
		ahead, err := h.profiles.CountWithMoreXP(gctx, p.XP)
		stats.Rank = ahead + 1
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return stats, nil
}
