package command

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillquest/progression-engine/internal/application/levels"
	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/domain/skill"
)

func TestAwardXP_Scenario2_LevelUpUnlocksSkills(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, alice, 90)

	res, err := f.awarder.Handle(f.ctx, AwardXPCommand{
		UserID: alice,
		Amount: 20,
		Source: shared.SourceLessonCompletion,
	})
	require.NoError(t, err)

	assert.Equal(t, 110, res.NewXP)
	assert.Equal(t, 1, res.OldLevel)
	assert.Equal(t, 2, res.NewLevel)
	assert.Equal(t, progression.TierBronze, res.Tier)
	assert.True(t, res.LeveledUp)
	assert.ElementsMatch(t, []shared.SkillID{"variables", "loops", "functions"}, res.Unlocked)

	assert.Equal(t, []shared.EventType{
		shared.EventXPAwarded,
		shared.EventLevelUp,
		shared.EventSkillUnlocked,
		shared.EventSkillUnlocked,
		shared.EventSkillUnlocked,
	}, eventTypes(res.Events))

	stored := f.profile(t, alice)
	assert.Equal(t, 110, stored.XP)
	assert.Equal(t, 2, stored.Level)

	owned, err := f.store.UserSkills().ListByUser(f.ctx, alice)
	require.NoError(t, err)
	require.Len(t, owned, 3)
	for _, us := range owned {
		assert.Equal(t, skill.StatusAvailable, us.Status)
	}
}

func TestAwardXP_WithoutLevelUp(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, alice, 10)

	res, err := f.awarder.Handle(f.ctx, AwardXPCommand{UserID: alice, Amount: 30, Source: shared.SourceManualGrant})
	require.NoError(t, err)

	assert.Equal(t, 40, res.NewXP)
	assert.False(t, res.LeveledUp)
	assert.Empty(t, res.Unlocked)
	assert.Equal(t, []shared.EventType{shared.EventXPAwarded}, eventTypes(res.Events))
}

func TestAwardXP_ZeroAmountIsNoop(t *testing.T) {
	f := newFixture(t)
	seeded := f.seedProfile(t, alice, 40)

	res, err := f.awarder.Handle(f.ctx, AwardXPCommand{UserID: alice, Amount: 0, Source: shared.SourceManualGrant})
	require.NoError(t, err)

	assert.Equal(t, 40, res.NewXP)
	assert.Equal(t, 1, res.NewLevel)
	assert.False(t, res.LeveledUp)
	assert.Empty(t, res.Events)
	assert.Equal(t, seeded.Version, f.profile(t, alice).Version)
}

func TestAwardXP_Validation(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, alice, 0)

	tests := []struct {
		name string
		cmd  AwardXPCommand
	}{
		{"negative amount", AwardXPCommand{UserID: alice, Amount: -5, Source: shared.SourceManualGrant}},
		{"empty source", AwardXPCommand{UserID: alice, Amount: 5}},
		{"blank source", AwardXPCommand{UserID: alice, Amount: 5, Source: "   "}},
		{"bad user", AwardXPCommand{UserID: "nope", Amount: 5, Source: shared.SourceManualGrant}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.awarder.Handle(f.ctx, tt.cmd)
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err))
		})
	}

	assert.Equal(t, 0, f.profile(t, alice).XP)
}

func TestAwardXP_UnknownProfile(t *testing.T) {
	f := newFixture(t)

	_, err := f.awarder.Handle(f.ctx, AwardXPCommand{UserID: bob, Amount: 5, Source: shared.SourceManualGrant})
	require.Error(t, err)
	assert.True(t, shared.IsNotFound(err))
}

func TestAwardXP_TotalIsOrderIndependent(t *testing.T) {
	amounts := []int{30, 80, 150, 5}
	orders := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {2, 0, 3, 1}}

	var (
		finals  []int
		reached []int
	)
	for _, order := range orders {
		f := newFixture(t)
		f.seedProfile(t, alice, 0)

		for _, i := range order {
			_, err := f.awarder.Handle(f.ctx, AwardXPCommand{UserID: alice, Amount: amounts[i], Source: shared.SourceManualGrant})
			require.NoError(t, err)
		}

		p := f.profile(t, alice)
		finals = append(finals, p.XP)
		reached = append(reached, p.Level)
	}

	for i := range finals {
		assert.Equal(t, 265, finals[i])
		assert.Equal(t, 3, reached[i])
	}
}

func TestAwardXP_RetriesLostVersionRace(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, alice, 90)
	f.store.Fail("profiles.Save", shared.ErrProfileVersionStale)

	res, err := f.awarder.Handle(f.ctx, AwardXPCommand{UserID: alice, Amount: 20, Source: shared.SourceManualGrant})
	require.NoError(t, err)

	assert.Equal(t, 110, res.NewXP)
	assert.Equal(t, 110, f.profile(t, alice).XP)
}

func TestAwardXP_GivesUpAfterRepeatedConflicts(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, alice, 90)
	f.store.Fail("profiles.Save",
		shared.ErrProfileVersionStale, shared.ErrProfileVersionStale, shared.ErrProfileVersionStale)

	_, err := f.awarder.Handle(f.ctx, AwardXPCommand{UserID: alice, Amount: 20, Source: shared.SourceManualGrant})
	require.Error(t, err)
	assert.True(t, shared.IsConflict(err))
	assert.Equal(t, 90, f.profile(t, alice).XP)
}

func TestAwardXP_FailedCascadeRollsBackAward(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, alice, 90)
	f.store.Fail("userSkills.InsertAvailable",
		shared.WrapError("skill", "InsertAvailable", shared.ErrStore, "insert failed", errors.New("connection reset")))

	_, err := f.awarder.Handle(f.ctx, AwardXPCommand{UserID: alice, Amount: 20, Source: shared.SourceManualGrant})
	require.Error(t, err)
	assert.True(t, shared.IsStore(err))

	p := f.profile(t, alice)
	assert.Equal(t, 90, p.XP)
	assert.Equal(t, 1, p.Level)

	owned, err := f.store.UserSkills().ListByUser(f.ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestAwardXP_StampsRequestMeta(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, alice, 0)

	ctx := shared.WithRequestMeta(f.ctx, shared.RequestMeta{SessionID: "sess-1", CorrelationID: "corr-1"})
	res, err := f.awarder.Handle(ctx, AwardXPCommand{UserID: alice, Amount: 5, Source: shared.SourceManualGrant})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)

	base := res.Events[0].Base()
	assert.Equal(t, "sess-1", base.SessionID)
	assert.Equal(t, "corr-1", base.CorrelationID)
	assert.Equal(t, string(alice), res.Events[0].AggregateID())
}

func TestAwardXP_RejectsTotalAboveMax(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, alice, 10)

	tests := []struct {
		name   string
		amount int
	}{
		{"above column limit", math.MaxInt},
		{"total overflows", shared.MaxXP - 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.awarder.Handle(f.ctx, AwardXPCommand{UserID: alice, Amount: tt.amount, Source: shared.SourceManualGrant})
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, shared.IsValidation(err))
			assert.ErrorIs(t, err, shared.ErrXPOverflow)
		})
	}

	p := f.profile(t, alice)
	assert.Equal(t, 10, p.XP)
	assert.Equal(t, 1, p.Level)

	res, err := f.awarder.Handle(f.ctx, AwardXPCommand{UserID: alice, Amount: shared.MaxXP - 10, Source: shared.SourceManualGrant})
	require.NoError(t, err)
	assert.Equal(t, shared.MaxXP, res.NewXP)
}

func TestAwardXP_StaleTableNeverLowersReconciledLevel(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, alice, 120)

	// The API side loads the table before the edit and keeps it.
	apiLevels := levels.NewProvider(f.store.Thresholds(), 0, quietLogger())
	_, err := apiLevels.Resolver(f.ctx)
	require.NoError(t, err)
	apiAwarder := NewAwardXPHandler(f.store, f.store.Profiles(), apiLevels, f.unlocker, fastRetrier(), f.clock, quietLogger())

	require.NoError(t, f.store.Thresholds().Replace(f.ctx, []progression.Threshold{
		{Level: 1, MinXP: 0, Tier: progression.TierBronze},
		{Level: 2, MinXP: 50, Tier: progression.TierBronze},
		{Level: 3, MinXP: 110, Tier: progression.TierSilver},
	}))
	_, err = f.levels.Refresh(f.ctx)
	require.NoError(t, err)
	_, err = f.reconciler.Handle(f.ctx, ReconcileLevelsCommand{})
	require.NoError(t, err)
	require.Equal(t, 3, f.profile(t, alice).Level)

	res, err := apiAwarder.Handle(f.ctx, AwardXPCommand{UserID: alice, Amount: 1, Source: shared.SourceManualGrant})
	require.NoError(t, err)
	assert.False(t, res.LeveledUp)

	p := f.profile(t, alice)
	assert.Equal(t, 121, p.XP)
	assert.GreaterOrEqual(t, p.Level, 3)
	assert.Equal(t, progression.TierSilver, p.Tier)
}

func TestAwardXP_EventsUseHandlerClock(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, alice, 90)

	res, err := f.awarder.Handle(f.ctx, AwardXPCommand{UserID: alice, Amount: 20, Source: shared.SourceManualGrant})
	require.NoError(t, err)
	require.NotEmpty(t, res.Events)

	ids := make(map[string]struct{}, len(res.Events))
	for _, e := range res.Events {
		assert.Equal(t, testNow, e.OccurredAt())
		require.NotEmpty(t, e.Base().ID)
		ids[e.Base().ID] = struct{}{}
	}
	assert.Len(t, ids, len(res.Events))
}
