package command

import (
	"context"
	"fmt"

	"github.com/skillquest/progression-engine/internal/domain/challenge"
	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/pkg/timeutil"
)

// JoinChallengeCommand enrols a user in a challenge.
type JoinChallengeCommand struct {
	UserID      shared.UserID
	ChallengeID shared.ChallengeID
}

// JoinChallengeResult contains the enrolment state.
type JoinChallengeResult struct {
	ChallengeID     shared.ChallengeID `json:"challenge_id"`
	Joined          bool               `json:"joined"`
	CurrentProgress int                `json:"current_progress"`
	Target          int                `json:"target"`
	Completed       bool               `json:"completed"`
}

// JoinChallengeHandler handles JoinChallengeCommand.
type JoinChallengeHandler struct {
	tx             shared.Transactor
	profiles       progression.ProfileRepository
	catalog        challenge.CatalogRepository
	userChallenges challenge.UserChallengeRepository
	clock          timeutil.Clock
}

// NewJoinChallengeHandler creates a new JoinChallengeHandler.
func NewJoinChallengeHandler(
	tx shared.Transactor,
	profiles progression.ProfileRepository,
	catalog challenge.CatalogRepository,
	userChallenges challenge.UserChallengeRepository,
	clock timeutil.Clock,
) *JoinChallengeHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &JoinChallengeHandler{
		tx:             tx,
		profiles:       profiles,
		catalog:        catalog,
		userChallenges: userChallenges,
		clock:          clock,
	}
}

// Handle enrols the user; joining twice returns the existing enrolment.
func (h *JoinChallengeHandler) Handle(ctx context.Context, cmd JoinChallengeCommand) (*JoinChallengeResult, error) {
	if !cmd.UserID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	if !cmd.ChallengeID.IsValid() {
		return nil, shared.Validationf("challenge", "Join", "invalid challenge id %q", cmd.ChallengeID)
	}

	result := &JoinChallengeResult{ChallengeID: cmd.ChallengeID}

	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := h.profiles.Get(ctx, cmd.UserID); err != nil {
			return err
		}

		c, err := h.catalog.Get(ctx, cmd.ChallengeID)
		if err != nil {
			return err
		}
		result.Target = c.Target()

		now := h.clock.Now().UTC()
		if !c.IsOpen(now) {
			return shared.ErrChallengeClosed
		}

		created, err := h.userChallenges.Join(ctx, cmd.UserID, cmd.ChallengeID, now)
		if err != nil {
			return err
		}
		result.Joined = created

		uc, err := h.userChallenges.Get(ctx, cmd.UserID, cmd.ChallengeID)
		if err != nil {
			return err
		}
		result.CurrentProgress = uc.CurrentProgress
		result.Completed = uc.IsCompleted()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("join_challenge: %w", err)
	}

	return result, nil
}
