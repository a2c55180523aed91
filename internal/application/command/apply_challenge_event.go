package command

import (
	"context"
	"fmt"
	"time"

	"github.com/skillquest/progression-engine/internal/domain/challenge"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/pkg/logger"
	"github.com/skillquest/progression-engine/pkg/retry"
	"github.com/skillquest/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY CHALLENGE EVENT COMMAND
// Advances every open, compatible challenge of the user.
// Each write is guarded by the read progress, so two concurrent crossings
// of the target cannot both complete the challenge and grant its reward.
// ══════════════════════════════════════════════════════════════════════════════

// ApplyChallengeEventCommand contains the data to apply an event.
type ApplyChallengeEventCommand struct {
	UserID    shared.UserID
	Kind      challenge.EventKind
	Increment int
}

// Validate validates the command.
func (c ApplyChallengeEventCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if !c.Kind.IsValid() {
		return shared.ErrUnknownEventKind
	}
	if c.Increment < 1 {
		return shared.ErrInvalidIncrement
	}
	return nil
}

// ApplyChallengeEventResult contains per-challenge outcomes.
type ApplyChallengeEventResult struct {
	Challenges []challenge.Result `json:"challenges"`
	Events     []shared.Event     `json:"-"`
}

// ApplyChallengeEventHandler handles ApplyChallengeEventCommand.
type ApplyChallengeEventHandler struct {
	tx             shared.Transactor
	catalog        challenge.CatalogRepository
	userChallenges challenge.UserChallengeRepository
	compat         *challenge.Compatibility
	awarder        *AwardXPHandler
	retrier        *retry.Retrier
	clock          timeutil.Clock
	log            *logger.Logger
}

// NewApplyChallengeEventHandler creates a new ApplyChallengeEventHandler.
func NewApplyChallengeEventHandler(
	tx shared.Transactor,
	catalog challenge.CatalogRepository,
	userChallenges challenge.UserChallengeRepository,
	compat *challenge.Compatibility,
	awarder *AwardXPHandler,
	retrier *retry.Retrier,
	clock timeutil.Clock,
	log *logger.Logger,
) *ApplyChallengeEventHandler {
	if compat == nil {
		compat = challenge.MustCompatibility(challenge.DefaultCompatibilityTable())
	}
	if retrier == nil {
		retrier = retry.OptimisticRetrier(shared.IsRowConflict)
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &ApplyChallengeEventHandler{
		tx:             tx,
		catalog:        catalog,
		userChallenges: userChallenges,
		compat:         compat,
		awarder:        awarder,
		retrier:        retrier,
		clock:          clock,
		log:            log.With(logger.Component("challenges")),
	}
}

// Handle applies the event to all eligible challenges.
func (h *ApplyChallengeEventHandler) Handle(ctx context.Context, cmd ApplyChallengeEventCommand) (*ApplyChallengeEventResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if !h.compat.Knows(cmd.Kind) {
		return nil, shared.ErrUnknownEventKind
	}

	meta := shared.RequestMetaFrom(ctx)
	result := &ApplyChallengeEventResult{Challenges: make([]challenge.Result, 0)}

	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		active, err := h.userChallenges.ListActive(ctx, cmd.UserID)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return nil
		}

		ids := make([]shared.ChallengeID, len(active))
		for i, uc := range active {
			ids[i] = uc.ChallengeID
		}
		catalog, err := h.catalog.GetMany(ctx, ids)
		if err != nil {
			return err
		}

		now := h.clock.Now().UTC()
		for _, uc := range active {
			c, ok := catalog[uc.ChallengeID]
			if !ok || !h.compat.Accepts(cmd.Kind, c.Type) || !c.IsOpen(now) {
				continue
			}

			res, applied, err := h.advance(ctx, uc, c, cmd.Increment, now)
			if err != nil {
				return err
			}
			if !applied {
				continue
			}

			if res.Completed {
				award, err := h.awarder.Handle(ctx, AwardXPCommand{
					UserID:   cmd.UserID,
					Amount:   c.XPReward,
					Source:   shared.SourceChallengeCompletion,
					SourceID: string(c.ID),
				})
				if err != nil {
					return err
				}
				res.XPAwarded = c.XPReward
				result.Events = append(result.Events, award.Events...)
				result.Events = append(result.Events,
					shared.NewChallengeCompletedEvent(cmd.UserID, c.ID, c.XPReward, meta, now))

				h.log.Info("challenge completed",
					logger.UserID(cmd.UserID.String()),
					logger.String("challenge_id", string(c.ID)),
					logger.XPAmount(c.XPReward),
				)
			}

			result.Challenges = append(result.Challenges, res)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply_challenge_event: %w", err)
	}

	return result, nil
}

// advance writes one challenge step, re-reading on a lost race.
// applied is false when there is nothing to write or the challenge
// was completed concurrently.
func (h *ApplyChallengeEventHandler) advance(
	ctx context.Context,
	uc challenge.UserChallenge,
	c challenge.Challenge,
	increment int,
	now time.Time,
) (challenge.Result, bool, error) {
	var (
		res     challenge.Result
		applied bool
	)

	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		step := challenge.Advance(uc, c, increment)
		if !step.Changed() {
			return nil
		}

		var completedAt *time.Time
		if step.Completes {
			completedAt = &now
		}

		ok, err := h.userChallenges.SaveProgress(ctx, uc.UserID, uc.ChallengeID,
			step.OldProgress, step.NewProgress, completedAt)
		if err != nil {
			return err
		}
		if !ok {
			fresh, err := h.userChallenges.Get(ctx, uc.UserID, uc.ChallengeID)
			if err != nil {
				return err
			}
			if fresh.IsCompleted() {
				return nil
			}
			uc = fresh
			return shared.ErrChallengeProgressConflict
		}

		applied = true
		res = challenge.Result{
			ChallengeID: c.ID,
			NewProgress: step.NewProgress,
			Target:      c.Target(),
			Completed:   step.Completes,
		}
		return nil
	})

	return res, applied, err
}
