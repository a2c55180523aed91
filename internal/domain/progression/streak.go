package progression

import (
	"time"

	"github.com/skillquest/progression-engine/pkg/timeutil"
)

// StreakState - состояние серии активных дней.
type StreakState struct {
	Current        int
	Longest        int
	LastActiveDate *time.Time
}

// StreakTransition - результат перехода серии.
type StreakTransition struct {
	Before StreakState
	After  StreakState

	// Changed - false для повторного вызова в тот же день
	// (и для дня раньше последней активности).
	Changed bool

	// Continued - серия продолжена (вчера была активность).
	Continued bool

	// NewRecord - текущая серия превысила прежний рекорд.
	NewRecord bool
}

// AdvanceStreak вычисляет следующее состояние серии на календарный день today.
//
//   - lastActive == today      -> без изменений
//   - lastActive == today - 1  -> Current + 1
//   - иначе (разрыв или первая активность) -> Current = 1
//
// Longest = max(Longest, Current). Чистая функция.
func AdvanceStreak(state StreakState, today time.Time) StreakTransition {
	day := timeutil.Normalize(today)
	tr := StreakTransition{Before: state, After: state}

	next := 1
	if state.LastActiveDate != nil {
		gap := timeutil.DaysBetween(*state.LastActiveDate, day)
		switch {
		case gap <= 0:
			// Тот же день или часы отстают: серию не трогаем.
			return tr
		case gap == 1:
			next = state.Current + 1
			tr.Continued = true
		}
	}

	longest := state.Longest
	if next > longest {
		longest = next
		tr.NewRecord = true
	}

	tr.After = StreakState{
		Current:        next,
		Longest:        longest,
		LastActiveDate: &day,
	}
	tr.Changed = true
	return tr
}
