package command

import (
	"context"
	"fmt"
	"time"

	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/pkg/retry"
	"github.com/skillquest/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE STREAK COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// UpdateStreakCommand contains the data to record daily activity.
type UpdateStreakCommand struct {
	UserID shared.UserID

	// Today is the calendar day of the activity in the business timezone.
	Today time.Time
}

// UpdateStreakResult contains the streak after the call.
type UpdateStreakResult struct {
	CurrentStreak  int            `json:"current_streak"`
	LongestStreak  int            `json:"longest_streak"`
	LastActiveDate *time.Time     `json:"-"`
	Changed        bool           `json:"changed"`
	NewRecord      bool           `json:"new_record"`
	Events         []shared.Event `json:"-"`
}

// UpdateStreakHandler handles UpdateStreakCommand.
type UpdateStreakHandler struct {
	tx       shared.Transactor
	profiles progression.ProfileRepository
	retrier  *retry.Retrier
	clock    timeutil.Clock
}

// NewUpdateStreakHandler creates a new UpdateStreakHandler.
func NewUpdateStreakHandler(
	tx shared.Transactor,
	profiles progression.ProfileRepository,
	retrier *retry.Retrier,
	clock timeutil.Clock,
) *UpdateStreakHandler {
	if retrier == nil {
		retrier = retry.OptimisticRetrier(shared.IsRowConflict)
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &UpdateStreakHandler{tx: tx, profiles: profiles, retrier: retrier, clock: clock}
}

// Handle advances the streak for cmd.Today.
func (h *UpdateStreakHandler) Handle(ctx context.Context, cmd UpdateStreakCommand) (*UpdateStreakResult, error) {
	if !cmd.UserID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	if cmd.Today.IsZero() {
		return nil, shared.Validationf("progression", "UpdateStreak", "today is required")
	}

	meta := shared.RequestMetaFrom(ctx)
	result := &UpdateStreakResult{}

	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		return h.retrier.Do(ctx, func(ctx context.Context) error {
			p, err := h.profiles.Get(ctx, cmd.UserID)
			if err != nil {
				return err
			}

			now := h.clock.Now().UTC()
			tr := p.ApplyStreak(cmd.Today, now)
			result.CurrentStreak = p.CurrentStreak
			result.LongestStreak = p.LongestStreak
			result.LastActiveDate = p.LastActiveDate
			result.Changed = tr.Changed
			result.NewRecord = tr.NewRecord
			result.Events = nil

			if !tr.Changed {
				return nil
			}
			if err := h.profiles.Save(ctx, p); err != nil {
				return err
			}

			result.Events = append(result.Events, shared.NewDailyLoginEvent(
				cmd.UserID, timeutil.FormatDay(*p.LastActiveDate), p.CurrentStreak, tr.NewRecord, meta, now))
			if tr.NewRecord {
				result.Events = append(result.Events, shared.NewStreakMilestoneEvent(cmd.UserID, p.CurrentStreak, meta, now))
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("update_streak: %w", err)
	}

	return result, nil
}
