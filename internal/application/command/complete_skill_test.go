package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/domain/skill"
)

func TestCompleteSkill_CompletesAvailableSkill(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, alice, 0)
	f.seedProgress(t, alice, "skill-sprint", 0)
	_, err := f.unlocker.Handle(f.ctx, UnlockSkillsCommand{UserID: alice, Level: 1})
	require.NoError(t, err)

	res, err := f.skills.Handle(f.ctx, CompleteSkillCommand{UserID: alice, SkillID: "variables"})
	require.NoError(t, err)

	assert.Equal(t, testNow, res.CompletedAt)
	require.Len(t, res.Challenges, 1)
	assert.Equal(t, shared.ChallengeID("skill-sprint"), res.Challenges[0].ChallengeID)
	assert.Equal(t, 1, res.Challenges[0].NewProgress)
	assert.Equal(t, []shared.EventType{shared.EventSkillCompleted}, eventTypes(res.Events))

	us, err := f.store.UserSkills().Get(f.ctx, alice, "variables")
	require.NoError(t, err)
	assert.Equal(t, skill.StatusCompleted, us.Status)
	require.NotNil(t, us.CompletedAt)
}

func TestCompleteSkill_SecondCallIsAlreadyCompleted(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, alice, 0)
	_, err := f.unlocker.Handle(f.ctx, UnlockSkillsCommand{UserID: alice, Level: 1})
	require.NoError(t, err)

	_, err = f.skills.Handle(f.ctx, CompleteSkillCommand{UserID: alice, SkillID: "variables"})
	require.NoError(t, err)

	_, err = f.skills.Handle(f.ctx, CompleteSkillCommand{UserID: alice, SkillID: "variables"})
	assert.ErrorIs(t, err, shared.ErrSkillAlreadyCompleted)
	assert.True(t, shared.IsAlreadyCompleted(err))
}

func TestCompleteSkill_LockedSkill(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, alice, 0)

	_, err := f.skills.Handle(f.ctx, CompleteSkillCommand{UserID: alice, SkillID: "recursion"})
	assert.ErrorIs(t, err, shared.ErrSkillLocked)
	assert.True(t, shared.IsValidation(err))
}

func TestCompleteSkill_UnknownSkill(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, alice, 0)

	_, err := f.skills.Handle(f.ctx, CompleteSkillCommand{UserID: alice, SkillID: "astrology"})
	assert.True(t, shared.IsNotFound(err))
}

func TestUnlockSkills_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, alice, 0)

	first, err := f.unlocker.Handle(f.ctx, UnlockSkillsCommand{UserID: alice, Level: 2})
	require.NoError(t, err)
	assert.ElementsMatch(t, []shared.SkillID{"variables", "loops", "functions"}, first.Unlocked)
	assert.Len(t, first.Events, 3)

	second, err := f.unlocker.Handle(f.ctx, UnlockSkillsCommand{UserID: alice, Level: 2})
	require.NoError(t, err)
	assert.Empty(t, second.Unlocked)
	assert.Empty(t, second.Events)

	count, err := f.store.UserSkills().CountByStatus(f.ctx, alice, skill.StatusAvailable)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestUnlockSkills_KeepsCompletedStatus(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, alice, 0)
	_, err := f.unlocker.Handle(f.ctx, UnlockSkillsCommand{UserID: alice, Level: 1})
	require.NoError(t, err)
	_, err = f.skills.Handle(f.ctx, CompleteSkillCommand{UserID: alice, SkillID: "variables"})
	require.NoError(t, err)

	res, err := f.unlocker.Handle(f.ctx, UnlockSkillsCommand{UserID: alice, Level: 3})
	require.NoError(t, err)
	assert.ElementsMatch(t, []shared.SkillID{"loops", "functions", "recursion"}, res.Unlocked)

	us, err := f.store.UserSkills().Get(f.ctx, alice, "variables")
	require.NoError(t, err)
	assert.Equal(t, skill.StatusCompleted, us.Status)
}
