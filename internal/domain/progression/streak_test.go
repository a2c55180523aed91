package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/skillquest/progression-engine/pkg/timeutil"
)

func day(d int) time.Time {
	return timeutil.Date(2026, time.March, d)
}

func ptr(t time.Time) *time.Time { return &t }

func TestAdvanceStreak(t *testing.T) {
	tests := []struct {
		name      string
		state     StreakState
		today     time.Time
		current   int
		longest   int
		changed   bool
		continued bool
		record    bool
	}{
		{
			name:    "first activity",
			state:   StreakState{},
			today:   day(1),
			current: 1, longest: 1, changed: true, record: true,
		},
		{
			name:    "same day is a no-op",
			state:   StreakState{Current: 3, Longest: 5, LastActiveDate: ptr(day(10))},
			today:   day(10),
			current: 3, longest: 5,
		},
		{
			name:    "consecutive day continues",
			state:   StreakState{Current: 3, Longest: 5, LastActiveDate: ptr(day(10))},
			today:   day(11),
			current: 4, longest: 5, changed: true, continued: true,
		},
		{
			name:    "continuation beats record",
			state:   StreakState{Current: 5, Longest: 5, LastActiveDate: ptr(day(10))},
			today:   day(11),
			current: 6, longest: 6, changed: true, continued: true, record: true,
		},
		{
			name:    "gap resets to one",
			state:   StreakState{Current: 5, Longest: 7, LastActiveDate: ptr(day(10))},
			today:   day(13),
			current: 1, longest: 7, changed: true,
		},
		{
			name:    "day before last activity is ignored",
			state:   StreakState{Current: 2, Longest: 2, LastActiveDate: ptr(day(10))},
			today:   day(9),
			current: 2, longest: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := AdvanceStreak(tt.state, tt.today)
			assert.Equal(t, tt.current, tr.After.Current)
			assert.Equal(t, tt.longest, tr.After.Longest)
			assert.Equal(t, tt.changed, tr.Changed)
			assert.Equal(t, tt.continued, tr.Continued)
			assert.Equal(t, tt.record, tr.NewRecord)
			assert.GreaterOrEqual(t, tr.After.Longest, tr.After.Current)
			if tt.changed {
				assert.True(t, timeutil.SameDay(*tr.After.LastActiveDate, tt.today))
			}
		})
	}
}

func TestProfile_ApplyStreak_TimeOfDayIgnored(t *testing.T) {
	p := &Profile{CurrentStreak: 1, LongestStreak: 1, LastActiveDate: ptr(day(10))}

	late := time.Date(2026, time.March, 11, 23, 59, 0, 0, time.UTC)
	tr := p.ApplyStreak(late, late)
	assert.True(t, tr.Changed)
	assert.Equal(t, 2, p.CurrentStreak)
	assert.Equal(t, day(11), *p.LastActiveDate)

	tr = p.ApplyStreak(day(11), late)
	assert.False(t, tr.Changed)
	assert.Equal(t, 2, p.CurrentStreak)
}
