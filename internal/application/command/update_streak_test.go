package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/pkg/timeutil"
)

var today = timeutil.Date(2026, time.March, 10)

func (f *fixture) seedStreak(t *testing.T, userID shared.UserID, current, longest int, last *time.Time) *progression.Profile {
	t.Helper()

	p, err := progression.NewProfile(userID, shared.RoleStudent, testNow)
	require.NoError(t, err)
	p.CurrentStreak, p.LongestStreak, p.LastActiveDate = current, longest, last

	created, err := f.store.Profiles().Create(f.ctx, p)
	require.NoError(t, err)
	require.True(t, created)
	return p
}

func daysAgo(n int) *time.Time {
	d := today.AddDate(0, 0, -n)
	return &d
}

func TestUpdateStreak_Scenario3_ContinuesFromYesterday(t *testing.T) {
	f := newFixture(t)
	f.seedStreak(t, alice, 5, 5, daysAgo(1))

	res, err := f.streaks.Handle(f.ctx, UpdateStreakCommand{UserID: alice, Today: today})
	require.NoError(t, err)

	assert.Equal(t, 6, res.CurrentStreak)
	assert.Equal(t, 6, res.LongestStreak)
	assert.True(t, res.Changed)
	assert.True(t, res.NewRecord)
	assert.Equal(t, []shared.EventType{shared.EventDailyLogin, shared.EventStreakMilestone}, eventTypes(res.Events))

	p := f.profile(t, alice)
	assert.Equal(t, 6, p.CurrentStreak)
	require.NotNil(t, p.LastActiveDate)
	assert.True(t, timeutil.SameDay(today, *p.LastActiveDate))
}

func TestUpdateStreak_ContinuesBelowRecord(t *testing.T) {
	f := newFixture(t)
	f.seedStreak(t, alice, 5, 12, daysAgo(1))

	res, err := f.streaks.Handle(f.ctx, UpdateStreakCommand{UserID: alice, Today: today})
	require.NoError(t, err)

	assert.Equal(t, 6, res.CurrentStreak)
	assert.Equal(t, 12, res.LongestStreak)
	assert.False(t, res.NewRecord)
	assert.Equal(t, []shared.EventType{shared.EventDailyLogin}, eventTypes(res.Events))
}

func TestUpdateStreak_Scenario4_GapResetsStreak(t *testing.T) {
	f := newFixture(t)
	f.seedStreak(t, alice, 5, 8, daysAgo(3))

	res, err := f.streaks.Handle(f.ctx, UpdateStreakCommand{UserID: alice, Today: today})
	require.NoError(t, err)

	assert.Equal(t, 1, res.CurrentStreak)
	assert.Equal(t, 8, res.LongestStreak)
	assert.True(t, res.Changed)
	assert.False(t, res.NewRecord)
}

func TestUpdateStreak_SameDayIsNoop(t *testing.T) {
	f := newFixture(t)
	seeded := f.seedStreak(t, alice, 4, 4, daysAgo(0))

	res, err := f.streaks.Handle(f.ctx, UpdateStreakCommand{UserID: alice, Today: today.Add(15 * time.Hour)})
	require.NoError(t, err)

	assert.False(t, res.Changed)
	assert.Equal(t, 4, res.CurrentStreak)
	assert.Empty(t, res.Events)
	assert.Equal(t, seeded.Version, f.profile(t, alice).Version)
}

func TestUpdateStreak_EarlierDayIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seedStreak(t, alice, 4, 4, daysAgo(0))

	res, err := f.streaks.Handle(f.ctx, UpdateStreakCommand{UserID: alice, Today: today.AddDate(0, 0, -2)})
	require.NoError(t, err)

	assert.False(t, res.Changed)
	assert.Equal(t, 4, res.CurrentStreak)
}

func TestUpdateStreak_FirstActivity(t *testing.T) {
	f := newFixture(t)
	f.seedStreak(t, alice, 0, 0, nil)

	res, err := f.streaks.Handle(f.ctx, UpdateStreakCommand{UserID: alice, Today: today})
	require.NoError(t, err)

	assert.Equal(t, 1, res.CurrentStreak)
	assert.Equal(t, 1, res.LongestStreak)
	assert.True(t, res.Changed)
}

func TestUpdateStreak_RetriesLostVersionRace(t *testing.T) {
	f := newFixture(t)
	f.seedStreak(t, alice, 2, 2, daysAgo(1))
	f.store.Fail("profiles.Save", shared.ErrProfileVersionStale)

	res, err := f.streaks.Handle(f.ctx, UpdateStreakCommand{UserID: alice, Today: today})
	require.NoError(t, err)
	assert.Equal(t, 3, res.CurrentStreak)
	assert.Len(t, res.Events, 2)
	assert.Equal(t, 3, f.profile(t, alice).CurrentStreak)
}

func TestUpdateStreak_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.streaks.Handle(f.ctx, UpdateStreakCommand{UserID: alice})
	assert.True(t, shared.IsValidation(err))

	_, err = f.streaks.Handle(f.ctx, UpdateStreakCommand{UserID: "bad", Today: today})
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)

	_, err = f.streaks.Handle(f.ctx, UpdateStreakCommand{UserID: bob, Today: today})
	assert.True(t, shared.IsNotFound(err))
}
