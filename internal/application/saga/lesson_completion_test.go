package saga

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillquest/progression-engine/internal/application/command"
	"github.com/skillquest/progression-engine/internal/application/levels"
	"github.com/skillquest/progression-engine/internal/domain/challenge"
	"github.com/skillquest/progression-engine/internal/domain/lesson"
	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/skillquest/progression-engine/pkg/logger"
	"github.com/skillquest/progression-engine/pkg/retry"
	"github.com/skillquest/progression-engine/pkg/timeutil"
)

const learner = shared.UserID("0b7e8a52-3c1f-4f57-9a55-2a0d3b1e4c11")

var sagaNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func setup(t *testing.T) (*LessonCompletionSaga, *memory.Store) {
	t.Helper()

	ctx := context.Background()
	store := memory.NewStore()
	clock := timeutil.FixedClock{T: sagaNow}
	log := logger.New(logger.Options{Output: io.Discard, Level: logger.LevelError})
	retrier := retry.New(retry.WithMaxAttempts(3), retry.WithInitialDelay(time.Millisecond), retry.WithRetryIf(shared.IsConflict))

	require.NoError(t, store.Thresholds().Replace(ctx, []progression.Threshold{
		{Level: 1, MinXP: 0, Tier: progression.TierBronze},
		{Level: 2, MinXP: 100, Tier: progression.TierBronze},
	}))
	require.NoError(t, store.Lessons().Upsert(ctx, []lesson.Lesson{
		{ID: "intro", Title: "Intro", XPReward: 40, IsActive: true},
		{ID: "archived", Title: "Archived", XPReward: 40, IsActive: false},
	}))
	require.NoError(t, store.Challenges().Upsert(ctx, []challenge.Challenge{
		{ID: "first-lesson", Title: "First lesson", Type: challenge.TypeDaily, TargetValue: 1, XPReward: 70, IsActive: true},
	}))

	p, err := progression.NewProfile(learner, shared.RoleStudent, sagaNow)
	require.NoError(t, err)
	_, err = store.Profiles().Create(ctx, p)
	require.NoError(t, err)

	provider := levels.NewProvider(store.Thresholds(), 0, log)
	unlocker := command.NewUnlockSkillsHandler(store.Skills(), store.UserSkills(), clock)
	awarder := command.NewAwardXPHandler(store, store.Profiles(), provider, unlocker, retrier, clock, log)
	challenges := command.NewApplyChallengeEventHandler(store, store.Challenges(), store.UserChallenges(), nil, awarder, retrier, clock, log)

	return NewLessonCompletionSaga(store, store.Lessons(), store.Completions(), awarder, challenges, clock, log), store
}

func xpOf(t *testing.T, store *memory.Store) int {
	t.Helper()
	p, err := store.Profiles().Get(context.Background(), learner)
	require.NoError(t, err)
	return p.XP
}

func TestLessonCompletion_RecordsAndAwards(t *testing.T) {
	s, store := setup(t)
	spent := 300

	res, err := s.Execute(context.Background(), LessonCompletionInput{UserID: learner, LessonID: "intro", TimeSpentSeconds: &spent})
	require.NoError(t, err)

	assert.Equal(t, 40, res.Completion.XPEarned)
	assert.Equal(t, sagaNow, res.Completion.CompletedAt)
	require.NotNil(t, res.XP)
	assert.Equal(t, 40, res.XP.NewXP)
	assert.Empty(t, res.Challenges)

	types := make([]shared.EventType, 0, len(res.Events))
	for _, e := range res.Events {
		types = append(types, e.EventType())
	}
	assert.Equal(t, []shared.EventType{shared.EventXPAwarded, shared.EventLessonCompleted}, types)

	stored, err := store.Completions().Get(context.Background(), learner, "intro")
	require.NoError(t, err)
	require.NotNil(t, stored.TimeSpentSeconds)
	assert.Equal(t, 300, *stored.TimeSpentSeconds)
	assert.Equal(t, 40, xpOf(t, store))
}

func TestLessonCompletion_Scenario6_DuplicateGrantsXPOnce(t *testing.T) {
	s, store := setup(t)
	ctx := context.Background()

	_, err := s.Execute(ctx, LessonCompletionInput{UserID: learner, LessonID: "intro"})
	require.NoError(t, err)

	_, err = s.Execute(ctx, LessonCompletionInput{UserID: learner, LessonID: "intro"})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrLessonAlreadyCompleted)
	assert.True(t, shared.IsAlreadyCompleted(err))

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepRecordCompletion, stepErr.Step)

	assert.Equal(t, 40, xpOf(t, store))
	n, err := store.Completions().CountByUser(ctx, learner)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLessonCompletion_FeedsChallenges(t *testing.T) {
	s, store := setup(t)
	ctx := context.Background()
	_, err := store.UserChallenges().Join(ctx, learner, "first-lesson", sagaNow)
	require.NoError(t, err)

	res, err := s.Execute(ctx, LessonCompletionInput{UserID: learner, LessonID: "intro"})
	require.NoError(t, err)

	require.Len(t, res.Challenges, 1)
	assert.True(t, res.Challenges[0].Completed)
	assert.Equal(t, 70, res.Challenges[0].XPAwarded)

	// 40 for the lesson and 70 for the challenge crosses level 2.
	assert.Equal(t, 110, xpOf(t, store))
	p, err := store.Profiles().Get(ctx, learner)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Level)
}

func TestLessonCompletion_FailedStepRollsBackEverything(t *testing.T) {
	s, store := setup(t)
	ctx := context.Background()
	_, err := store.UserChallenges().Join(ctx, learner, "first-lesson", sagaNow)
	require.NoError(t, err)
	store.Fail("userChallenges.SaveProgress",
		shared.WrapError("challenge", "SaveProgress", shared.ErrStore, "write failed", errors.New("connection reset")))

	_, err = s.Execute(ctx, LessonCompletionInput{UserID: learner, LessonID: "intro"})
	require.Error(t, err)
	assert.True(t, shared.IsStore(err))

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepApplyChallenges, stepErr.Step)

	assert.Equal(t, 0, xpOf(t, store))
	_, err = store.Completions().Get(ctx, learner, "intro")
	assert.True(t, shared.IsNotFound(err))

	// The lesson can be completed once the store recovers.
	_, err = s.Execute(ctx, LessonCompletionInput{UserID: learner, LessonID: "intro"})
	require.NoError(t, err)
	assert.Equal(t, 110, xpOf(t, store))
}

func TestLessonCompletion_Rejections(t *testing.T) {
	s, store := setup(t)
	negative := -1

	tests := []struct {
		name  string
		input LessonCompletionInput
		check func(error) bool
	}{
		{"inactive lesson", LessonCompletionInput{UserID: learner, LessonID: "archived"}, shared.IsValidation},
		{"unknown lesson", LessonCompletionInput{UserID: learner, LessonID: "missing"}, shared.IsNotFound},
		{"negative time", LessonCompletionInput{UserID: learner, LessonID: "intro", TimeSpentSeconds: &negative}, shared.IsValidation},
		{"bad user", LessonCompletionInput{UserID: "nobody", LessonID: "intro"}, shared.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Execute(context.Background(), tt.input)
			require.Error(t, err)
			assert.True(t, tt.check(err))
		})
	}

	assert.Equal(t, 0, xpOf(t, store))
}
