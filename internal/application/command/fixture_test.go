package command

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skillquest/progression-engine/internal/application/levels"
	"github.com/skillquest/progression-engine/internal/domain/challenge"
	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/domain/skill"
	"github.com/skillquest/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/skillquest/progression-engine/pkg/logger"
	"github.com/skillquest/progression-engine/pkg/retry"
	"github.com/skillquest/progression-engine/pkg/timeutil"
)

const (
	alice = shared.UserID("0b7e8a52-3c1f-4f57-9a55-2a0d3b1e4c11")
	bob   = shared.UserID("6f1d2c3b-4a5e-4f60-8b7c-9d0e1f2a3b4c")
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ctx        context.Context
	store      *memory.Store
	clock      timeutil.FixedClock
	levels     *levels.Provider
	unlocker   *UnlockSkillsHandler
	awarder    *AwardXPHandler
	challenges *ApplyChallengeEventHandler
	skills     *CompleteSkillHandler
	streaks    *UpdateStreakHandler
	joiner     *JoinChallengeHandler
	registrar  *RegisterProfileHandler
	reconciler *ReconcileLevelsHandler
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard, Level: logger.LevelError})
}

func fastRetrier() *retry.Retrier {
	return retry.New(
		retry.WithMaxAttempts(3),
		retry.WithInitialDelay(time.Millisecond),
		retry.WithMaxDelay(2*time.Millisecond),
		retry.WithRetryIf(shared.IsRowConflict),
	)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	store := memory.NewStore()
	clock := timeutil.FixedClock{T: testNow}
	log := quietLogger()

	require.NoError(t, store.Thresholds().Replace(ctx, []progression.Threshold{
		{Level: 1, MinXP: 0, Tier: progression.TierBronze},
		{Level: 2, MinXP: 100, Tier: progression.TierBronze},
		{Level: 3, MinXP: 250, Tier: progression.TierSilver},
	}))
	require.NoError(t, store.Skills().Upsert(ctx, []skill.Skill{
		{ID: "variables", Name: "Variables", RequiredLevel: 1},
		{ID: "loops", Name: "Loops", RequiredLevel: 2},
		{ID: "functions", Name: "Functions", RequiredLevel: 2},
		{ID: "recursion", Name: "Recursion", RequiredLevel: 3},
	}))
	require.NoError(t, store.Challenges().Upsert(ctx, []challenge.Challenge{
		{ID: "three-lessons", Title: "Three lessons", Type: challenge.TypeDaily, TargetValue: 3, XPReward: 50, IsActive: true},
		{ID: "skill-sprint", Title: "Skill sprint", Type: challenge.TypeWeekly, TargetValue: 2, XPReward: 80, IsActive: true},
		{ID: "retired", Title: "Retired", Type: challenge.TypeDaily, TargetValue: 1, XPReward: 10, IsActive: false},
	}))

	provider := levels.NewProvider(store.Thresholds(), 0, log)
	retrier := fastRetrier()

	unlocker := NewUnlockSkillsHandler(store.Skills(), store.UserSkills(), clock)
	awarder := NewAwardXPHandler(store, store.Profiles(), provider, unlocker, retrier, clock, log)
	challenges := NewApplyChallengeEventHandler(store, store.Challenges(), store.UserChallenges(), nil, awarder, retrier, clock, log)

	return &fixture{
		ctx:        ctx,
		store:      store,
		clock:      clock,
		levels:     provider,
		unlocker:   unlocker,
		awarder:    awarder,
		challenges: challenges,
		skills:     NewCompleteSkillHandler(store, store.Skills(), store.UserSkills(), challenges, clock),
		streaks:    NewUpdateStreakHandler(store, store.Profiles(), retrier, clock),
		joiner:     NewJoinChallengeHandler(store, store.Profiles(), store.Challenges(), store.UserChallenges(), clock),
		registrar:  NewRegisterProfileHandler(store, store.Profiles(), unlocker, clock),
		reconciler: NewReconcileLevelsHandler(store, store.Profiles(), provider, unlocker, retrier, clock, log),
	}
}

// seedProfile stores a profile with the given xp and its resolved level.
func (f *fixture) seedProfile(t *testing.T, userID shared.UserID, xp int) *progression.Profile {
	t.Helper()

	p, err := progression.NewProfile(userID, shared.RoleStudent, testNow)
	require.NoError(t, err)

	resolver, err := f.levels.Resolver(f.ctx)
	require.NoError(t, err)
	info := resolver.Resolve(xp)
	p.XP, p.Level, p.Tier = xp, info.Level, info.Tier

	created, err := f.store.Profiles().Create(f.ctx, p)
	require.NoError(t, err)
	require.True(t, created)
	return p
}

// seedProgress enrols the user and sets the challenge progress.
func (f *fixture) seedProgress(t *testing.T, userID shared.UserID, id shared.ChallengeID, progress int) {
	t.Helper()

	created, err := f.store.UserChallenges().Join(f.ctx, userID, id, testNow)
	require.NoError(t, err)
	require.True(t, created)
	if progress > 0 {
		ok, err := f.store.UserChallenges().SaveProgress(f.ctx, userID, id, 0, progress, nil)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func (f *fixture) profile(t *testing.T, userID shared.UserID) *progression.Profile {
	t.Helper()
	p, err := f.store.Profiles().Get(f.ctx, userID)
	require.NoError(t, err)
	return p
}

func eventTypes(events []shared.Event) []shared.EventType {
	out := make([]shared.EventType, len(events))
	for i, e := range events {
		out[i] = e.EventType()
	}
	return out
}
