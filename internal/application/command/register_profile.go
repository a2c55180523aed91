package command

import (
	"context"
	"fmt"

	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/pkg/timeutil"
)

// RegisterProfileCommand creates the progression profile of a user.
type RegisterProfileCommand struct {
	UserID shared.UserID
	Role   shared.Role
}

// RegisterProfileResult contains the stored profile.
type RegisterProfileResult struct {
	Profile *progression.Profile
	Created bool
	Events  []shared.Event
}

// RegisterProfileHandler handles RegisterProfileCommand.
type RegisterProfileHandler struct {
	tx       shared.Transactor
	profiles progression.ProfileRepository
	unlocker *UnlockSkillsHandler
	clock    timeutil.Clock
}

// NewRegisterProfileHandler creates a new RegisterProfileHandler.
func NewRegisterProfileHandler(
	tx shared.Transactor,
	profiles progression.ProfileRepository,
	unlocker *UnlockSkillsHandler,
	clock timeutil.Clock,
) *RegisterProfileHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &RegisterProfileHandler{tx: tx, profiles: profiles, unlocker: unlocker, clock: clock}
}

// Handle inserts the profile if absent and unlocks level-1 skills.
// Registering twice returns the existing profile with Created=false.
func (h *RegisterProfileHandler) Handle(ctx context.Context, cmd RegisterProfileCommand) (*RegisterProfileResult, error) {
	p, err := progression.NewProfile(cmd.UserID, cmd.Role, h.clock.Now().UTC())
	if err != nil {
		return nil, err
	}

	result := &RegisterProfileResult{}
	err = h.tx.WithinTx(ctx, func(ctx context.Context) error {
		created, err := h.profiles.Create(ctx, p)
		if err != nil {
			return err
		}
		result.Created = created

		stored, err := h.profiles.Get(ctx, cmd.UserID)
		if err != nil {
			return err
		}
		result.Profile = stored

		if !created {
			return nil
		}

		unlocked, err := h.unlocker.Handle(ctx, UnlockSkillsCommand{UserID: cmd.UserID, Level: stored.Level})
		if err != nil {
			return err
		}
		result.Events = unlocked.Events
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("register_profile: %w", err)
	}

	return result, nil
}
