package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillquest/progression-engine/internal/application/command"
	"github.com/skillquest/progression-engine/internal/application/saga"
	"github.com/skillquest/progression-engine/internal/domain/challenge"
	"github.com/skillquest/progression-engine/internal/domain/lesson"
	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/domain/skill"
	"github.com/skillquest/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/skillquest/progression-engine/pkg/logger"
	"github.com/skillquest/progression-engine/pkg/timeutil"
)

const user = shared.UserID("0b7e8a52-3c1f-4f57-9a55-2a0d3b1e4c11")

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
	err    error
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) types() []shared.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

func repositories(s *memory.Store) Repositories {
	return Repositories{
		Tx:             s,
		Profiles:       s.Profiles(),
		Thresholds:     s.Thresholds(),
		Skills:         s.Skills(),
		UserSkills:     s.UserSkills(),
		Challenges:     s.Challenges(),
		UserChallenges: s.UserChallenges(),
		Lessons:        s.Lessons(),
		Completions:    s.Completions(),
	}
}

func newEngine(t *testing.T, now time.Time, loc *time.Location) (*Engine, *memory.Store, *recorder) {
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
	}))
	require.NoError(t, store.Lessons().Upsert(ctx, []lesson.Lesson{
		{ID: "intro", Title: "Intro", XPReward: 60, IsActive: true},
		{ID: "next", Title: "Next", XPReward: 60, IsActive: true},
	}))
	require.NoError(t, store.Challenges().Upsert(ctx, []challenge.Challenge{
		{ID: "two-lessons", Title: "Two lessons", Type: challenge.TypeDaily, TargetValue: 2, XPReward: 25, IsActive: true},
	}))

	rec := &recorder{}
	e := New(repositories(store), Options{
		Publisher: rec,
		Location:  loc,
		Clock:     timeutil.FixedClock{T: now},
		Logger:    logger.New(logger.Options{Output: io.Discard, Level: logger.LevelError}),
	})
	return e, store, rec
}

func TestEngine_LearnerJourney(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	e, _, rec := newEngine(t, now, nil)
	ctx := context.Background()

	reg, err := e.RegisterProfile(ctx, command.RegisterProfileCommand{UserID: user})
	require.NoError(t, err)
	require.True(t, reg.Created)

	_, err = e.JoinChallenge(ctx, command.JoinChallengeCommand{UserID: user, ChallengeID: "two-lessons"})
	require.NoError(t, err)

	_, err = e.CompleteLesson(ctx, saga.LessonCompletionInput{UserID: user, LessonID: "intro"})
	require.NoError(t, err)
	res, err := e.CompleteLesson(ctx, saga.LessonCompletionInput{UserID: user, LessonID: "next"})
	require.NoError(t, err)
	require.Len(t, res.Challenges, 1)
	assert.True(t, res.Challenges[0].Completed)

	stats, err := e.DashboardStats(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 145, stats.TotalXP)
	assert.Equal(t, 2, stats.Level)
	assert.Equal(t, 2, stats.CompletedLessons)
	assert.Equal(t, 2, stats.AvailableSkills)
	assert.Equal(t, 0, stats.ActiveChallenges)
	assert.Equal(t, 1, stats.Rank)

	_, err = e.CompleteSkill(ctx, command.CompleteSkillCommand{UserID: user, SkillID: "loops"})
	require.NoError(t, err)

	tree, err := e.SkillTree(ctx, user)
	require.NoError(t, err)
	require.Len(t, tree, 2)
	assert.Equal(t, skill.StatusAvailable, tree[0].Status)
	assert.Equal(t, skill.StatusCompleted, tree[1].Status)

	types := rec.types()
	assert.Contains(t, types, shared.EventSkillUnlocked)
	assert.Contains(t, types, shared.EventLessonCompleted)
	assert.Contains(t, types, shared.EventChallengeComplete)
	assert.Contains(t, types, shared.EventLevelUp)
	assert.Contains(t, types, shared.EventSkillCompleted)
}

func TestEngine_NothingPublishedOnFailure(t *testing.T) {
	e, store, rec := newEngine(t, time.Now(), nil)
	ctx := context.Background()

	_, err := e.RegisterProfile(ctx, command.RegisterProfileCommand{UserID: user})
	require.NoError(t, err)
	before := len(rec.types())

	store.Fail("completions.Insert",
		shared.WrapError("lesson", "Insert", shared.ErrStore, "insert failed", errors.New("timeout")))
	_, err = e.CompleteLesson(ctx, saga.LessonCompletionInput{UserID: user, LessonID: "intro"})
	require.Error(t, err)

	_, err = e.CompleteLesson(ctx, saga.LessonCompletionInput{UserID: user, LessonID: "missing"})
	require.Error(t, err)

	assert.Len(t, rec.types(), before)
}

func TestEngine_PublishErrorDoesNotFailOperation(t *testing.T) {
	e, _, rec := newEngine(t, time.Now(), nil)
	rec.err = errors.New("relay down")
	ctx := context.Background()

	_, err := e.RegisterProfile(ctx, command.RegisterProfileCommand{UserID: user})
	require.NoError(t, err)

	res, err := e.AwardXP(ctx, command.AwardXPCommand{UserID: user, Amount: 10, Source: shared.SourceManualGrant})
	require.NoError(t, err)
	assert.Equal(t, 10, res.NewXP)
}

func TestEngine_UpdateStreakUsesBusinessTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	// 21:00 UTC on March 9 is already March 10 at UTC+5.
	now := time.Date(2026, 3, 9, 21, 0, 0, 0, time.UTC)
	e, _, _ := newEngine(t, now, loc)
	ctx := context.Background()

	_, err := e.RegisterProfile(ctx, command.RegisterProfileCommand{UserID: user})
	require.NoError(t, err)

	res, err := e.UpdateStreak(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, res.LastActiveDate)
	assert.Equal(t, "2026-03-10", timeutil.FormatDay(*res.LastActiveDate))
	assert.Equal(t, 1, res.CurrentStreak)
}

func TestEngine_CalculateLevelScenario1(t *testing.T) {
	e, _, _ := newEngine(t, time.Now(), nil)

	info, err := e.CalculateLevel(context.Background(), 150)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Level)
	assert.Equal(t, progression.TierBronze, info.Tier)
	assert.Equal(t, 250, info.NextLevelCeiling)
}

func TestEngine_RefreshLevelsPicksUpTableEdits(t *testing.T) {
	e, store, _ := newEngine(t, time.Now(), nil)
	ctx := context.Background()

	info, err := e.CalculateLevel(ctx, 120)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Level)

	require.NoError(t, store.Thresholds().Replace(ctx, []progression.Threshold{
		{Level: 1, MinXP: 0, Tier: progression.TierBronze},
		{Level: 2, MinXP: 200, Tier: progression.TierBronze},
	}))
	require.NoError(t, e.RefreshLevels(ctx))

	info, err = e.CalculateLevel(ctx, 120)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Level)
}

func abortedTx(op string) error {
	return shared.WrapError("postgres", op, shared.ErrConflict, "transaction aborted by a concurrent writer",
		fmt.Errorf("%w: deadlock detected", shared.ErrTxAborted))
}

func TestEngine_RerunsOperationAfterAbortedTransaction(t *testing.T) {
	e, store, rec := newEngine(t, time.Now(), nil)
	ctx := context.Background()

	_, err := e.RegisterProfile(ctx, command.RegisterProfileCommand{UserID: user})
	require.NoError(t, err)
	_, err = e.JoinChallenge(ctx, command.JoinChallengeCommand{UserID: user, ChallengeID: "two-lessons"})
	require.NoError(t, err)
	before := len(rec.types())

	// Aborted after the completion row and the XP write; both must roll back.
	store.Fail("userChallenges.SaveProgress", abortedTx("SaveProgress"))

	res, err := e.CompleteLesson(ctx, saga.LessonCompletionInput{UserID: user, LessonID: "intro"})
	require.NoError(t, err)
	assert.Equal(t, 60, res.XP.NewXP)

	p, err := store.Profiles().Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 60, p.XP)

	uc, err := store.UserChallenges().Get(ctx, user, "two-lessons")
	require.NoError(t, err)
	assert.Equal(t, 1, uc.CurrentProgress)

	counts := map[shared.EventType]int{}
	for _, typ := range rec.types()[before:] {
		counts[typ]++
	}
	assert.Equal(t, 1, counts[shared.EventLessonCompleted])
	assert.Equal(t, 1, counts[shared.EventXPAwarded])
}

func TestEngine_PersistentTxAbortIsConflict(t *testing.T) {
	e, store, _ := newEngine(t, time.Now(), nil)
	ctx := context.Background()

	_, err := e.RegisterProfile(ctx, command.RegisterProfileCommand{UserID: user})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		store.Fail("profiles.Save", abortedTx("SaveProfile"))
	}
	_, err = e.AwardXP(ctx, command.AwardXPCommand{UserID: user, Amount: 10, Source: shared.SourceManualGrant})
	require.Error(t, err)
	assert.True(t, shared.IsConflict(err))
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))

	p, err := store.Profiles().Get(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, p.XP)
}
