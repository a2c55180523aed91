package command

import (
	"context"
	"fmt"

	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/domain/skill"
	"github.com/skillquest/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK SKILLS COMMAND
// Makes every catalog skill with requiredLevel <= level available to the user.
// Idempotent: rows that already exist are skipped by the insert.
// ══════════════════════════════════════════════════════════════════════════════

// UnlockSkillsCommand contains the data to run the cascade.
type UnlockSkillsCommand struct {
	UserID shared.UserID
	Level  int
}

// UnlockSkillsResult lists the rows actually inserted.
type UnlockSkillsResult struct {
	Unlocked []shared.SkillID
	Events   []shared.Event
}

// UnlockSkillsHandler handles UnlockSkillsCommand.
type UnlockSkillsHandler struct {
	catalog    skill.CatalogRepository
	userSkills skill.UserSkillRepository
	clock      timeutil.Clock
}

// NewUnlockSkillsHandler creates a new UnlockSkillsHandler.
func NewUnlockSkillsHandler(catalog skill.CatalogRepository, userSkills skill.UserSkillRepository, clock timeutil.Clock) *UnlockSkillsHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &UnlockSkillsHandler{catalog: catalog, userSkills: userSkills, clock: clock}
}

// Handle computes catalog − existing and inserts the difference.
func (h *UnlockSkillsHandler) Handle(ctx context.Context, cmd UnlockSkillsCommand) (*UnlockSkillsResult, error) {
	if cmd.Level < 1 {
		return &UnlockSkillsResult{}, nil
	}

	eligible, err := h.catalog.ListUpToLevel(ctx, cmd.Level)
	if err != nil {
		return nil, fmt.Errorf("unlock_skills: %w", err)
	}
	if len(eligible) == 0 {
		return &UnlockSkillsResult{}, nil
	}

	owned, err := h.userSkills.ListByUser(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("unlock_skills: %w", err)
	}
	existing := make(map[shared.SkillID]struct{}, len(owned))
	for _, us := range owned {
		existing[us.SkillID] = struct{}{}
	}

	toInsert := skill.Unlockable(eligible, cmd.Level, existing)
	if len(toInsert) == 0 {
		return &UnlockSkillsResult{}, nil
	}

	now := h.clock.Now().UTC()
	inserted, err := h.userSkills.InsertAvailable(ctx, cmd.UserID, skill.IDs(toInsert), now)
	if err != nil {
		return nil, fmt.Errorf("unlock_skills: %w", err)
	}

	required := make(map[shared.SkillID]int, len(toInsert))
	for _, s := range toInsert {
		required[s.ID] = s.RequiredLevel
	}

	meta := shared.RequestMetaFrom(ctx)
	result := &UnlockSkillsResult{Unlocked: inserted}
	for _, id := range inserted {
		result.Events = append(result.Events,
			shared.NewSkillUnlockedEvent(cmd.UserID, id, required[id], cmd.Level, meta, now))
	}

	return result, nil
}
