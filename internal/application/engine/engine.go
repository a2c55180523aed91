// Package engine is the entry point of the progression engine. It wires the
// command and query handlers over one set of repositories and publishes the
// events each operation produced once its transaction has committed.
package engine

import (
	"context"
	"time"

	"github.com/skillquest/progression-engine/internal/application/command"
	"github.com/skillquest/progression-engine/internal/application/levels"
	"github.com/skillquest/progression-engine/internal/application/query"
	"github.com/skillquest/progression-engine/internal/application/saga"
	"github.com/skillquest/progression-engine/internal/domain/challenge"
	"github.com/skillquest/progression-engine/internal/domain/lesson"
	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/domain/skill"
	"github.com/skillquest/progression-engine/pkg/logger"
	"github.com/skillquest/progression-engine/pkg/retry"
	"github.com/skillquest/progression-engine/pkg/timeutil"
)

// Repositories groups the persistence ports the engine runs on.
type Repositories struct {
	Tx             shared.Transactor
	Profiles       progression.ProfileRepository
	Thresholds     progression.ThresholdRepository
	Skills         skill.CatalogRepository
	UserSkills     skill.UserSkillRepository
	Challenges     challenge.CatalogRepository
	UserChallenges challenge.UserChallengeRepository
	Lessons        lesson.CatalogRepository
	Completions    lesson.CompletionRepository
}

// Options tune the engine. The zero value is usable.
type Options struct {
	// Publisher receives events after commit. Nil drops them.
	Publisher shared.EventPublisher

	// StatsCache backs DashboardStats. Nil disables caching.
	StatsCache    query.StatsCache
	UseStatsCache func(shared.UserID) bool

	// Location is the business timezone for streak days. Nil means UTC.
	Location *time.Location

	// LevelSpan is the linear fallback span for an empty threshold table.
	LevelSpan int

	Compatibility *challenge.Compatibility

	// Retrier re-runs a read-compute-write after a lost row race.
	Retrier *retry.Retrier

	// TxRetrier re-runs a whole operation whose transaction the store
	// aborted (deadlock, serialization failure).
	TxRetrier *retry.Retrier

	Clock  timeutil.Clock
	Logger *logger.Logger
}

// Engine exposes the progression operations.
type Engine struct {
	levels    *levels.Provider
	publisher shared.EventPublisher
	location  *time.Location
	clock     timeutil.Clock
	txRetrier *retry.Retrier
	log       *logger.Logger

	calculateLevel *query.CalculateLevelHandler
	awardXP        *command.AwardXPHandler
	applyEvent     *command.ApplyChallengeEventHandler
	completeSkill  *command.CompleteSkillHandler
	updateStreak   *command.UpdateStreakHandler
	joinChallenge  *command.JoinChallengeHandler
	register       *command.RegisterProfileHandler
	reconcile      *command.ReconcileLevelsHandler
	lessonSaga     *saga.LessonCompletionSaga
	dashboard      *query.GetDashboardStatsHandler
	skillTree      *query.SkillTreeHandler
}

// New wires an engine.
func New(repos Repositories, opts Options) *Engine {
	if repos.Tx == nil {
		repos.Tx = shared.NoTx
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Retrier == nil {
		opts.Retrier = retry.OptimisticRetrier(shared.IsRowConflict)
	}
	if opts.TxRetrier == nil {
		opts.TxRetrier = retry.OptimisticRetrier(shared.IsTxAborted)
	}

	log := opts.Logger
	provider := levels.NewProvider(repos.Thresholds, opts.LevelSpan, log)

	unlocker := command.NewUnlockSkillsHandler(repos.Skills, repos.UserSkills, opts.Clock)
	awarder := command.NewAwardXPHandler(repos.Tx, repos.Profiles, provider, unlocker, opts.Retrier, opts.Clock, log)
	applyEvent := command.NewApplyChallengeEventHandler(repos.Tx, repos.Challenges, repos.UserChallenges,
		opts.Compatibility, awarder, opts.Retrier, opts.Clock, log)

	return &Engine{
		levels:    provider,
		publisher: opts.Publisher,
		location:  opts.Location,
		clock:     opts.Clock,
		txRetrier: opts.TxRetrier,
		log:       log.With(logger.Component("engine")),

		calculateLevel: query.NewCalculateLevelHandler(provider),
		awardXP:        awarder,
		applyEvent:     applyEvent,
		completeSkill:  command.NewCompleteSkillHandler(repos.Tx, repos.Skills, repos.UserSkills, applyEvent, opts.Clock),
		updateStreak:   command.NewUpdateStreakHandler(repos.Tx, repos.Profiles, opts.Retrier, opts.Clock),
		joinChallenge:  command.NewJoinChallengeHandler(repos.Tx, repos.Profiles, repos.Challenges, repos.UserChallenges, opts.Clock),
		register:       command.NewRegisterProfileHandler(repos.Tx, repos.Profiles, unlocker, opts.Clock),
		reconcile:      command.NewReconcileLevelsHandler(repos.Tx, repos.Profiles, provider, unlocker, opts.Retrier, opts.Clock, log),
		lessonSaga:     saga.NewLessonCompletionSaga(repos.Tx, repos.Lessons, repos.Completions, awarder, applyEvent, opts.Clock, log),
		dashboard: query.NewGetDashboardStatsHandler(repos.Profiles, provider, repos.Completions, repos.UserSkills,
			repos.UserChallenges, opts.StatsCache, opts.UseStatsCache, opts.Clock, log),
		skillTree: query.NewSkillTreeHandler(repos.Skills, repos.UserSkills),
	}
}

// Levels returns the threshold provider.
func (e *Engine) Levels() *levels.Provider {
	return e.levels
}

// RefreshLevels reloads the threshold table.
func (e *Engine) RefreshLevels(ctx context.Context) error {
	_, err := e.levels.Refresh(ctx)
	return err
}

// CalculateLevel resolves xp against the current threshold table.
func (e *Engine) CalculateLevel(ctx context.Context, xp int) (progression.LevelInfo, error) {
	return e.calculateLevel.Handle(ctx, xp)
}

// AwardXP adds XP to a profile.
func (e *Engine) AwardXP(ctx context.Context, cmd command.AwardXPCommand) (*command.AwardXPResult, error) {
	res, err := rerun(ctx, e, func(ctx context.Context) (*command.AwardXPResult, error) {
		return e.awardXP.Handle(ctx, cmd)
	})
	if err != nil {
		return nil, err
	}
	e.publish(res.Events)
	return res, nil
}

// CompleteLesson records a lesson completion and everything it cascades into.
func (e *Engine) CompleteLesson(ctx context.Context, input saga.LessonCompletionInput) (*saga.LessonCompletionResult, error) {
	res, err := rerun(ctx, e, func(ctx context.Context) (*saga.LessonCompletionResult, error) {
		return e.lessonSaga.Execute(ctx, input)
	})
	if err != nil {
		return nil, err
	}
	e.publish(res.Events)
	return res, nil
}

// CompleteSkill marks an available skill as completed.
func (e *Engine) CompleteSkill(ctx context.Context, cmd command.CompleteSkillCommand) (*command.CompleteSkillResult, error) {
	res, err := rerun(ctx, e, func(ctx context.Context) (*command.CompleteSkillResult, error) {
		return e.completeSkill.Handle(ctx, cmd)
	})
	if err != nil {
		return nil, err
	}
	e.publish(res.Events)
	return res, nil
}

// UpdateStreak records activity for today in the business timezone.
func (e *Engine) UpdateStreak(ctx context.Context, userID shared.UserID) (*command.UpdateStreakResult, error) {
	return e.UpdateStreakOn(ctx, userID, timeutil.CalendarDay(e.clock.Now(), e.location))
}

// UpdateStreakOn records activity for an explicit calendar day.
func (e *Engine) UpdateStreakOn(ctx context.Context, userID shared.UserID, day time.Time) (*command.UpdateStreakResult, error) {
	res, err := rerun(ctx, e, func(ctx context.Context) (*command.UpdateStreakResult, error) {
		return e.updateStreak.Handle(ctx, command.UpdateStreakCommand{UserID: userID, Today: day})
	})
	if err != nil {
		return nil, err
	}
	e.publish(res.Events)
	return res, nil
}

// ApplyChallengeEvent advances the user's compatible challenges.
func (e *Engine) ApplyChallengeEvent(ctx context.Context, cmd command.ApplyChallengeEventCommand) (*command.ApplyChallengeEventResult, error) {
	res, err := rerun(ctx, e, func(ctx context.Context) (*command.ApplyChallengeEventResult, error) {
		return e.applyEvent.Handle(ctx, cmd)
	})
	if err != nil {
		return nil, err
	}
	e.publish(res.Events)
	return res, nil
}

// RegisterProfile creates a profile if it does not exist yet.
func (e *Engine) RegisterProfile(ctx context.Context, cmd command.RegisterProfileCommand) (*command.RegisterProfileResult, error) {
	res, err := rerun(ctx, e, func(ctx context.Context) (*command.RegisterProfileResult, error) {
		return e.register.Handle(ctx, cmd)
	})
	if err != nil {
		return nil, err
	}
	e.publish(res.Events)
	return res, nil
}

// JoinChallenge enrols the user in an open challenge.
func (e *Engine) JoinChallenge(ctx context.Context, cmd command.JoinChallengeCommand) (*command.JoinChallengeResult, error) {
	return rerun(ctx, e, func(ctx context.Context) (*command.JoinChallengeResult, error) {
		return e.joinChallenge.Handle(ctx, cmd)
	})
}

// DashboardStats returns the user's dashboard summary.
func (e *Engine) DashboardStats(ctx context.Context, userID shared.UserID) (*query.DashboardStats, error) {
	return e.dashboard.Handle(ctx, query.GetDashboardStatsQuery{UserID: userID})
}

// SkillTree returns the catalog with the user's skill statuses.
func (e *Engine) SkillTree(ctx context.Context, userID shared.UserID) ([]skill.TreeNode, error) {
	return e.skillTree.Handle(ctx, query.SkillTreeQuery{UserID: userID})
}

// ReconcileLevels raises profile levels that lag behind the threshold table.
func (e *Engine) ReconcileLevels(ctx context.Context, batchSize int) (*command.ReconcileLevelsResult, error) {
	res, err := e.reconcile.Handle(ctx, command.ReconcileLevelsCommand{BatchSize: batchSize})
	if res != nil {
		e.publish(res.Events)
	}
	return res, err
}

// rerun executes op, starting it over when the store aborted its transaction.
// Nothing from an aborted attempt survives: its writes were rolled back and
// its events are only published from the final result.
func rerun[T any](ctx context.Context, e *Engine, op func(ctx context.Context) (T, error)) (T, error) {
	var res T
	err := e.txRetrier.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = op(ctx)
		return err
	})
	return res, err
}

// publish hands committed events to the publisher. Failures are logged only:
// the writes behind them are already durable.
func (e *Engine) publish(events []shared.Event) {
	if e.publisher == nil {
		return
	}
	for _, ev := range events {
		if err := e.publisher.Publish(ev); err != nil {
			e.log.Warn("failed to publish event",
				logger.EventType(string(ev.EventType())),
				logger.UserID(ev.AggregateID()),
				logger.Err(err),
			)
		}
	}
}
