// Package saga contains business processes that orchestrate several
// command handlers inside one transaction. The compensation for a failed
// step is the rollback of every write made by the earlier steps.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skillquest/progression-engine/internal/application/command"
	"github.com/skillquest/progression-engine/internal/domain/challenge"
	"github.com/skillquest/progression-engine/internal/domain/lesson"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/pkg/logger"
	"github.com/skillquest/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON COMPLETION SAGA
// Flow: Load Lesson → Record Completion → Award XP → Apply Challenge Event → Emit
// ══════════════════════════════════════════════════════════════════════════════

// LessonCompletionInput contains the data of a lesson completion.
type LessonCompletionInput struct {
	UserID   shared.UserID
	LessonID shared.LessonID

	// TimeSpentSeconds is optional and must be non-negative when set.
	TimeSpentSeconds *int
}

// Validate checks the input.
func (i LessonCompletionInput) Validate() error {
	if !i.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if !i.LessonID.IsValid() {
		return shared.Validationf("lesson", "Complete", "invalid lesson id %q", i.LessonID)
	}
	if i.TimeSpentSeconds != nil && *i.TimeSpentSeconds < 0 {
		return shared.ErrNegativeTimeSpent
	}
	return nil
}

// LessonCompletionStep names a saga step.
type LessonCompletionStep string

const (
	StepLoadLesson       LessonCompletionStep = "load_lesson"
	StepRecordCompletion LessonCompletionStep = "record_completion"
	StepAwardXP          LessonCompletionStep = "award_xp"
	StepApplyChallenges  LessonCompletionStep = "apply_challenges"
	StepEmit             LessonCompletionStep = "emit"
)

// StepError reports the step a saga failed in.
type StepError struct {
	Step LessonCompletionStep
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("lesson_completion: step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// LessonCompletionResult is the composite outcome.
type LessonCompletionResult struct {
	Completion lesson.Completion
	XP         *command.AwardXPResult
	Challenges []challenge.Result
	Events     []shared.Event
}

// LessonCompletionSaga orchestrates a lesson completion.
type LessonCompletionSaga struct {
	tx          shared.Transactor
	lessons     lesson.CatalogRepository
	completions lesson.CompletionRepository
	awarder     *command.AwardXPHandler
	challenges  *command.ApplyChallengeEventHandler
	clock       timeutil.Clock
	log         *logger.Logger
}

// NewLessonCompletionSaga creates a new saga.
func NewLessonCompletionSaga(
	tx shared.Transactor,
	lessons lesson.CatalogRepository,
	completions lesson.CompletionRepository,
	awarder *command.AwardXPHandler,
	challenges *command.ApplyChallengeEventHandler,
	clock timeutil.Clock,
	log *logger.Logger,
) *LessonCompletionSaga {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &LessonCompletionSaga{
		tx:          tx,
		lessons:     lessons,
		completions: completions,
		awarder:     awarder,
		challenges:  challenges,
		clock:       clock,
		log:         log.With(logger.Component("lesson_completion")),
	}
}

// Execute runs the saga. A duplicate completion returns ErrLessonAlreadyCompleted
// and changes nothing.
func (s *LessonCompletionSaga) Execute(ctx context.Context, input LessonCompletionInput) (*LessonCompletionResult, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &LessonCompletionResult{}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		l, err := s.lessons.Get(ctx, input.LessonID)
		if err != nil {
			return &StepError{Step: StepLoadLesson, Err: err}
		}
		if !l.IsActive {
			return &StepError{Step: StepLoadLesson, Err: shared.ErrLessonInactive}
		}

		completion, err := lesson.NewCompletion(input.UserID, l, input.TimeSpentSeconds, s.clock.Now().UTC())
		if err != nil {
			return &StepError{Step: StepRecordCompletion, Err: err}
		}
		created, err := s.completions.Insert(ctx, completion)
		if err != nil {
			return &StepError{Step: StepRecordCompletion, Err: err}
		}
		if !created {
			return &StepError{Step: StepRecordCompletion, Err: shared.ErrLessonAlreadyCompleted}
		}
		result.Completion = completion

		award, err := s.awarder.Handle(ctx, command.AwardXPCommand{
			UserID:   input.UserID,
			Amount:   completion.XPEarned,
			Source:   shared.SourceLessonCompletion,
			SourceID: string(l.ID),
		})
		if err != nil {
			return &StepError{Step: StepAwardXP, Err: err}
		}
		result.XP = award
		result.Events = append(result.Events, award.Events...)

		applied, err := s.challenges.Handle(ctx, command.ApplyChallengeEventCommand{
			UserID:    input.UserID,
			Kind:      challenge.EventLessonComplete,
			Increment: 1,
		})
		if err != nil {
			return &StepError{Step: StepApplyChallenges, Err: err}
		}
		result.Challenges = applied.Challenges
		result.Events = append(result.Events, applied.Events...)

		result.Events = append(result.Events, shared.NewLessonCompletedEvent(
			input.UserID, l.ID, completion.XPEarned, completion.TimeSpentSeconds, shared.RequestMetaFrom(ctx), completion.CompletedAt))
		return nil
	})
	if err != nil {
		var stepErr *StepError
		if errors.As(err, &stepErr) && !shared.IsAlreadyCompleted(err) && !shared.IsNotFound(err) && !shared.IsValidation(err) {
			s.log.Warn("lesson completion rolled back",
				logger.UserID(input.UserID.String()),
				logger.String("lesson_id", string(input.LessonID)),
				logger.String("step", string(stepErr.Step)),
				logger.Err(err),
			)
		}
		return nil, err
	}

	s.log.Debug("lesson completed",
		logger.UserID(input.UserID.String()),
		logger.String("lesson_id", string(input.LessonID)),
		logger.XPAmount(result.Completion.XPEarned),
		logger.Latency(time.Since(start)),
	)

	return result, nil
}
