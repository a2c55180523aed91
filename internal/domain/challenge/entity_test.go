package challenge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillquest/progression-engine/internal/domain/shared"
)

func TestAdvance_ClampsToTarget(t *testing.T) {
	c := Challenge{ID: "read-3", Type: TypeDaily, TargetValue: 3}

	step := Advance(UserChallenge{CurrentProgress: 2}, c, 1)
	assert.Equal(t, 3, step.NewProgress)
	assert.True(t, step.Completes)

	step = Advance(UserChallenge{CurrentProgress: 2}, c, 10)
	assert.Equal(t, 3, step.NewProgress)
	assert.True(t, step.Completes)

	step = Advance(UserChallenge{CurrentProgress: 0}, c, 1)
	assert.Equal(t, 1, step.NewProgress)
	assert.False(t, step.Completes)
	assert.True(t, step.Changed())
}

func TestAdvance_CompletedIsTerminal(t *testing.T) {
	done := time.Now()
	c := Challenge{ID: "read-3", Type: TypeDaily, TargetValue: 3}

	step := Advance(UserChallenge{CurrentProgress: 3, CompletedAt: &done}, c, 1)
	assert.False(t, step.Changed())
}

func TestAdvance_NonPositiveTargetActsAsOne(t *testing.T) {
	c := Challenge{ID: "first", Type: TypeSpecial, TargetValue: 0}

	step := Advance(UserChallenge{}, c, 1)
	assert.Equal(t, 1, step.NewProgress)
	assert.True(t, step.Completes)
}

func TestChallenge_IsOpen(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	c := Challenge{IsActive: true, StartDate: &start, EndDate: &end}

	assert.True(t, c.IsOpen(start.Add(time.Hour)))
	assert.False(t, c.IsOpen(start.Add(-time.Hour)))
	assert.False(t, c.IsOpen(end.Add(time.Hour)))

	c.IsActive = false
	assert.False(t, c.IsOpen(start.Add(time.Hour)))

	assert.True(t, Challenge{IsActive: true}.IsOpen(time.Now()))
}

func TestCompatibility_Default(t *testing.T) {
	compat, err := NewCompatibility(DefaultCompatibilityTable())
	require.NoError(t, err)

	assert.True(t, compat.Accepts(EventLessonComplete, TypeDaily))
	assert.True(t, compat.Accepts(EventVideoComplete, TypeSpecial))
	assert.True(t, compat.Accepts(EventSkillComplete, TypeWeekly))
	assert.False(t, compat.Accepts(EventSkillComplete, TypeDaily))
	assert.False(t, compat.Accepts("quiz_complete", TypeDaily))
}

func TestNewCompatibility_RejectsBadTables(t *testing.T) {
	tests := []struct {
		name  string
		table map[EventKind][]Type
	}{
		{"empty", map[EventKind][]Type{}},
		{"unknown kind", map[EventKind][]Type{"quiz_complete": {TypeDaily}}},
		{"unknown type", map[EventKind][]Type{EventLessonComplete: {"monthly"}}},
		{"empty set", map[EventKind][]Type{EventLessonComplete: {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCompatibility(tt.table)
			assert.True(t, shared.IsValidation(err))
		})
	}
}

func TestParseEventKind(t *testing.T) {
	k, err := ParseEventKind("video_complete")
	require.NoError(t, err)
	assert.Equal(t, EventVideoComplete, k)

	_, err = ParseEventKind("quiz_complete")
	assert.True(t, shared.IsValidation(err))
}

func TestChallenge_ValidateRewardBounds(t *testing.T) {
	ok := Challenge{ID: "daily", Type: TypeDaily, XPReward: 50}
	assert.NoError(t, ok.Validate())

	for _, reward := range []int{-1, shared.MaxXP + 1} {
		c := ok
		c.XPReward = reward
		assert.True(t, shared.IsValidation(c.Validate()), "reward %d", reward)
	}
}
