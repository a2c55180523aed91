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
// RECONCILE LEVELS COMMAND
// After a threshold table edit the cached level of a profile can lag behind
// its XP. Reconciliation raises such levels (never lowers them) and runs the
// unlock cascade, one profile per transaction.
// ══════════════════════════════════════════════════════════════════════════════

// ReconcileLevelsCommand controls a reconciliation pass.
type ReconcileLevelsCommand struct {
	// BatchSize is the page size of the profile scan.
	BatchSize int
}

// ReconcileLevelsResult summarizes the pass.
type ReconcileLevelsResult struct {
	Scanned int
	Raised  int
	Events  []shared.Event
}

// ReconcileLevelsHandler handles ReconcileLevelsCommand.
type ReconcileLevelsHandler struct {
	tx       shared.Transactor
	profiles progression.ProfileRepository
	levels   *levels.Provider
	unlocker *UnlockSkillsHandler
	retrier  *retry.Retrier
	clock    timeutil.Clock
	log      *logger.Logger
}

// NewReconcileLevelsHandler creates a new ReconcileLevelsHandler.
func NewReconcileLevelsHandler(
	tx shared.Transactor,
	profiles progression.ProfileRepository,
	levels *levels.Provider,
	unlocker *UnlockSkillsHandler,
	retrier *retry.Retrier,
	clock timeutil.Clock,
	log *logger.Logger,
) *ReconcileLevelsHandler {
	if retrier == nil {
		retrier = retry.OptimisticRetrier(shared.IsRowConflict)
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &ReconcileLevelsHandler{
		tx:       tx,
		profiles: profiles,
		levels:   levels,
		unlocker: unlocker,
		retrier:  retrier,
		clock:    clock,
		log:      log.With(logger.Component("reconcile_levels")),
	}
}

// Handle scans all profiles page by page.
func (h *ReconcileLevelsHandler) Handle(ctx context.Context, cmd ReconcileLevelsCommand) (*ReconcileLevelsResult, error) {
	batch := cmd.BatchSize
	if batch <= 0 {
		batch = 200
	}

	resolver, err := h.levels.Resolver(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile_levels: %w", err)
	}

	result := &ReconcileLevelsResult{}
	var after shared.UserID

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		page, err := h.profiles.ListAfter(ctx, after, batch)
		if err != nil {
			return result, fmt.Errorf("reconcile_levels: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, p := range page {
			result.Scanned++
			after = p.UserID

			if resolver.Resolve(p.XP).Level <= p.Level {
				continue
			}

			events, raised, err := h.raise(ctx, p.UserID, resolver)
			if err != nil {
				h.log.Error("failed to reconcile profile", logger.UserID(p.UserID.String()), logger.Err(err))
				continue
			}
			if raised {
				result.Raised++
				result.Events = append(result.Events, events...)
			}
		}

		if len(page) < batch {
			break
		}
	}

	if result.Raised > 0 {
		h.log.Info("levels reconciled", logger.Int("scanned", result.Scanned), logger.Int("raised", result.Raised))
	}
	return result, nil
}

func (h *ReconcileLevelsHandler) raise(ctx context.Context, userID shared.UserID, resolver *progression.LevelResolver) ([]shared.Event, bool, error) {
	var (
		events []shared.Event
		raised bool
	)

	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		events, raised = nil, false
		now := h.clock.Now().UTC()
		var oldLevel, xp int
		var info progression.LevelInfo

		err := h.retrier.Do(ctx, func(ctx context.Context) error {
			p, err := h.profiles.Get(ctx, userID)
			if err != nil {
				return err
			}
			info = resolver.Resolve(p.XP)
			if info.Level <= p.Level {
				raised = false
				return nil
			}
			oldLevel, xp = p.Level, p.XP
			p.Level = info.Level
			p.Tier = info.Tier
			p.UpdatedAt = now
			raised = true
			return h.profiles.Save(ctx, p)
		})
		if err != nil || !raised {
			return err
		}

		meta := shared.RequestMetaFrom(ctx)
		events = append(events, shared.NewLevelUpEvent(userID, oldLevel, info.Level, string(info.Tier), xp, meta, now))

		unlocked, err := h.unlocker.Handle(ctx, UnlockSkillsCommand{UserID: userID, Level: info.Level})
		if err != nil {
			return err
		}
		events = append(events, unlocked.Events...)
		return nil
	})

	return events, raised, err
}
