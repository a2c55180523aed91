package command

import (
	"context"
	"fmt"
	"time"

	"github.com/skillquest/progression-engine/internal/domain/challenge"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/domain/skill"
	"github.com/skillquest/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE SKILL COMMAND
// available → completed, then feeds skill_complete into the challenges.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteSkillCommand contains the data to complete a skill.
type CompleteSkillCommand struct {
	UserID  shared.UserID
	SkillID shared.SkillID
}

// Validate validates the command.
func (c CompleteSkillCommand) Validate() error {
	if !c.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if !c.SkillID.IsValid() {
		return shared.Validationf("skill", "Complete", "invalid skill id %q", c.SkillID)
	}
	return nil
}

// CompleteSkillResult contains the outcome.
type CompleteSkillResult struct {
	SkillID     shared.SkillID     `json:"skill_id"`
	CompletedAt time.Time          `json:"completed_at"`
	Challenges  []challenge.Result `json:"challenges"`
	Events      []shared.Event     `json:"-"`
}

// CompleteSkillHandler handles CompleteSkillCommand.
type CompleteSkillHandler struct {
	tx         shared.Transactor
	catalog    skill.CatalogRepository
	userSkills skill.UserSkillRepository
	challenges *ApplyChallengeEventHandler
	clock      timeutil.Clock
}

// NewCompleteSkillHandler creates a new CompleteSkillHandler.
func NewCompleteSkillHandler(
	tx shared.Transactor,
	catalog skill.CatalogRepository,
	userSkills skill.UserSkillRepository,
	challenges *ApplyChallengeEventHandler,
	clock timeutil.Clock,
) *CompleteSkillHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &CompleteSkillHandler{
		tx:         tx,
		catalog:    catalog,
		userSkills: userSkills,
		challenges: challenges,
		clock:      clock,
	}
}

// Handle completes the skill.
func (h *CompleteSkillHandler) Handle(ctx context.Context, cmd CompleteSkillCommand) (*CompleteSkillResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	result := &CompleteSkillResult{SkillID: cmd.SkillID}

	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := h.catalog.Get(ctx, cmd.SkillID); err != nil {
			return err
		}

		us, err := h.userSkills.Get(ctx, cmd.UserID, cmd.SkillID)
		if err != nil {
			return err
		}
		if us.IsCompleted() {
			return shared.ErrSkillAlreadyCompleted
		}

		now := h.clock.Now().UTC()
		ok, err := h.userSkills.MarkCompleted(ctx, cmd.UserID, cmd.SkillID, now)
		if err != nil {
			return err
		}
		if !ok {
			// Completed by a concurrent request between the read and the write.
			return shared.ErrSkillAlreadyCompleted
		}
		result.CompletedAt = now

		applied, err := h.challenges.Handle(ctx, ApplyChallengeEventCommand{
			UserID:    cmd.UserID,
			Kind:      challenge.EventSkillComplete,
			Increment: 1,
		})
		if err != nil {
			return err
		}
		result.Challenges = applied.Challenges

		result.Events = append(result.Events,
			shared.NewSkillCompletedEvent(cmd.UserID, cmd.SkillID, shared.RequestMetaFrom(ctx), now))
		result.Events = append(result.Events, applied.Events...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("complete_skill: %w", err)
	}

	return result, nil
}
