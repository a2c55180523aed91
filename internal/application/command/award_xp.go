// Package command contains write operations (CQRS - Commands).
// Handlers collect the domain events they produce in their results;
// the engine publishes them once the outermost transaction commits.
package command

import (
	"context"
	"fmt"

	"github.com/skillquest/progression-engine/internal/application/levels"
	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/pkg/logger"
	"github.com/skillquest/progression-engine/pkg/retry"
	"github.com/skillquest/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD XP COMMAND
// Adds XP to a profile with a version-guarded write, detects level-ups
// and runs the skill unlock cascade for the new level.
// ══════════════════════════════════════════════════════════════════════════════

// AwardXPCommand contains the data to award XP.
type AwardXPCommand struct {
	UserID shared.UserID

	// Amount must be non-negative and keep the total within shared.MaxXP.
	// Zero is a successful no-op.
	Amount int

	Source shared.XPSource

	// SourceID identifies the lesson or challenge behind the award (optional).
	SourceID string
}

// Validate validates the command.
func (c AwardXPCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if c.Amount < 0 {
		return shared.ErrNegativeXP
	}
	if c.Amount > shared.MaxXP {
		return shared.ErrXPOverflow
	}
	if c.Source == "" {
		return shared.ErrEmptySource
	}
	if !c.Source.IsValid() {
		return shared.Validationf("progression", "AwardXP", "unknown xp source %q", c.Source)
	}
	return nil
}

// AwardXPResult contains the outcome of an award.
type AwardXPResult struct {
	NewXP     int              `json:"new_xp"`
	OldLevel  int              `json:"old_level"`
	NewLevel  int              `json:"new_level"`
	Tier      progression.Tier `json:"tier"`
	LeveledUp bool             `json:"leveled_up"`

	// Unlocked lists skills made available by a level-up.
	Unlocked []shared.SkillID `json:"unlocked_skills,omitempty"`

	Events []shared.Event `json:"-"`
}

// AwardXPHandler handles AwardXPCommand.
type AwardXPHandler struct {
	tx       shared.Transactor
	profiles progression.ProfileRepository
	levels   *levels.Provider
	unlocker *UnlockSkillsHandler
	retrier  *retry.Retrier
	clock    timeutil.Clock
	log      *logger.Logger
}

// NewAwardXPHandler creates a new AwardXPHandler.
func NewAwardXPHandler(
	tx shared.Transactor,
	profiles progression.ProfileRepository,
	levels *levels.Provider,
	unlocker *UnlockSkillsHandler,
	retrier *retry.Retrier,
	clock timeutil.Clock,
	log *logger.Logger,
) *AwardXPHandler {
	if retrier == nil {
		retrier = retry.OptimisticRetrier(shared.IsRowConflict)
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &AwardXPHandler{
		tx:       tx,
		profiles: profiles,
		levels:   levels,
		unlocker: unlocker,
		retrier:  retrier,
		clock:    clock,
		log:      log.With(logger.Component("award_xp")),
	}
}

// Handle executes the award.
func (h *AwardXPHandler) Handle(ctx context.Context, cmd AwardXPCommand) (*AwardXPResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	resolver, err := h.levels.Resolver(ctx)
	if err != nil {
		return nil, fmt.Errorf("award_xp: %w", err)
	}

	if cmd.Amount == 0 {
		return h.current(ctx, cmd.UserID, resolver)
	}

	meta := shared.RequestMetaFrom(ctx)
	now := h.clock.Now().UTC()
	result := &AwardXPResult{}

	err = h.tx.WithinTx(ctx, func(ctx context.Context) error {
		var change progression.XPChange

		// Read-compute-write; a lost version race re-reads the profile.
		err := h.retrier.Do(ctx, func(ctx context.Context) error {
			p, err := h.profiles.Get(ctx, cmd.UserID)
			if err != nil {
				return err
			}
			change, err = p.ApplyXP(cmd.Amount, resolver, now)
			if err != nil {
				return err
			}
			return h.profiles.Save(ctx, p)
		})
		if err != nil {
			return err
		}

		result.NewXP = change.NewXP
		result.OldLevel = change.OldLevel
		result.NewLevel = change.NewLevel
		result.Tier = change.NewTier
		result.LeveledUp = change.LeveledUp

		result.Events = append(result.Events, shared.NewXPAwardedEvent(
			cmd.UserID, cmd.Amount, cmd.Source, cmd.SourceID, change.NewXP, meta, now))

		if !change.LeveledUp {
			return nil
		}

		result.Events = append(result.Events, shared.NewLevelUpEvent(
			cmd.UserID, change.OldLevel, change.NewLevel, string(change.NewTier), change.NewXP, meta, now))

		unlocked, err := h.unlocker.Handle(ctx, UnlockSkillsCommand{UserID: cmd.UserID, Level: change.NewLevel})
		if err != nil {
			return err
		}
		result.Unlocked = unlocked.Unlocked
		result.Events = append(result.Events, unlocked.Events...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("award_xp: %w", err)
	}

	if result.LeveledUp {
		h.log.Info("level up",
			logger.UserID(cmd.UserID.String()),
			logger.XPAmount(cmd.Amount),
			logger.Int("old_level", result.OldLevel),
			logger.LevelValue(result.NewLevel),
		)
	}

	return result, nil
}

// current reports the stored state without writing.
func (h *AwardXPHandler) current(ctx context.Context, userID shared.UserID, resolver *progression.LevelResolver) (*AwardXPResult, error) {
	p, err := h.profiles.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("award_xp: %w", err)
	}

	info := resolver.Resolve(p.XP)
	return &AwardXPResult{
		NewXP:    p.XP,
		OldLevel: info.Level,
		NewLevel: info.Level,
		Tier:     info.Tier,
	}, nil
}
